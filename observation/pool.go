package observation

import "sync"

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, 0)
		return &b
	},
}

// GetFloatBuffer returns a pooled buffer of length n. Contents are undefined.
// Caller must return it to pool using PutFloatBuffer.
func GetFloatBuffer(n int) *[]float32 {
	bp := floatPool.Get().(*[]float32)
	if cap(*bp) < n {
		*bp = make([]float32, n)
	}
	*bp = (*bp)[:n]
	return bp
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}
