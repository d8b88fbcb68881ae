package inference

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime points onnxruntime_go at the shared library and initializes
// the process-wide ORT environment once.
func initRuntime() error {
	if runtime.GOOS == "linux" {
		ensureLinuxLibraryPath()
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else if p := findSharedLibrary(); p != "" {
			ort.SetSharedLibraryPath(p)
		}
	}
	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return fmt.Errorf("failed to init ort: %w", ortInitErr)
	}
	return nil
}

// findSharedLibrary looks for libonnxruntime in the working directory and
// its parents, so tests run from a package directory find the repo copy.
func findSharedLibrary() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	names := []string{"libonnxruntime.so", "libonnxruntime.so.1", "libonnxruntime.so.1.23.2"}
	for up := 0; up < 6; up++ {
		for _, name := range names {
			p := filepath.Join(dir, name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// ensureLinuxLibraryPath prepends the CUDA and torch library dirs of a
// project-local .venv to LD_LIBRARY_PATH.
func ensureLinuxLibraryPath() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	dirs := []string{cwd}
	for _, pat := range []string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "torch", "lib"),
	} {
		matches, _ := filepath.Glob(pat)
		dirs = append(dirs, matches...)
	}

	existing := os.Getenv("LD_LIBRARY_PATH")
	have := map[string]bool{}
	for _, p := range strings.Split(existing, ":") {
		if p != "" {
			have[p] = true
		}
	}
	var add []string
	for _, d := range dirs {
		if have[d] {
			continue
		}
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			add = append(add, d)
		}
	}
	if len(add) == 0 {
		return
	}
	v := strings.Join(add, ":")
	if existing != "" {
		v += ":" + existing
	}
	_ = os.Setenv("LD_LIBRARY_PATH", v)
}

// runner executes one stacked batch.
type runner interface {
	Run(inputs []Input, batch int) (probs, value []float32, err error)
	Close() error
}

type ortRunner struct {
	session   *ort.DynamicAdvancedSession
	probsSize int
}

func newORTRunner(modelPath string, probsSize int, disableCUDA bool, log *slog.Logger) (*ortRunner, error) {
	if err := initRuntime(); err != nil {
		return nil, err
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// Many clients share the device; keep each session single-threaded.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	if !disableCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			log.Warn("CUDA options unavailable.", "err", err)
		} else {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				log.Warn("Failed to append CUDA provider.", "err", err)
			} else {
				log.Info("CUDA provider enabled.")
			}
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, InputNames, OutputNames, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &ortRunner{session: session, probsSize: probsSize}, nil
}

func (r *ortRunner) Run(inputs []Input, batch int) ([]float32, []float32, error) {
	values := make([]ort.Value, 0, len(inputs))
	defer func() {
		for _, v := range values {
			_ = v.Destroy()
		}
	}()
	for _, in := range inputs {
		t, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("input %s: %w", in.Name, err)
		}
		values = append(values, t)
	}

	probs, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(batch), int64(r.probsSize)))
	if err != nil {
		return nil, nil, err
	}
	defer probs.Destroy()
	value, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(batch), 1))
	if err != nil {
		return nil, nil, err
	}
	defer value.Destroy()

	if err := r.session.Run(values, []ort.Value{probs, value}); err != nil {
		return nil, nil, err
	}
	return append([]float32(nil), probs.GetData()...), append([]float32(nil), value.GetData()...), nil
}

func (r *ortRunner) Close() error {
	return r.session.Destroy()
}
