package block

import (
	"runtime"
	"sync"
)

// signWorkers bounds the process-wide signing pool, clamped the same
// way other_examples' badger GC workers scale with available cores
// rather than spawning one goroutine per signature.
func signWorkers() int {
	n := runtime.NumCPU() / 2
	if n < 2 {
		n = 2
	}
	if n > 8 {
		n = 8
	}
	return n
}

// signingPool dispatches Ed25519 sign/verify work to a bounded set of
// worker goroutines so a burst of concurrent SealAs/Validate calls
// doesn't serialize behind a single caller's signature. It is
// process-wide, stateless between jobs, and safe to submit to from any
// goroutine; it starts lazily on first use.
type signingPool struct {
	once sync.Once
	jobs chan func()
}

var globalSignPool signingPool

func (p *signingPool) start() {
	p.once.Do(func() {
		p.jobs = make(chan func())
		for i := 0; i < signWorkers(); i++ {
			go p.worker()
		}
	})
}

func (p *signingPool) worker() {
	for job := range p.jobs {
		job()
	}
}

// submit runs fn on the pool and blocks until it completes.
func (p *signingPool) submit(fn func()) {
	p.start()
	done := make(chan struct{})
	p.jobs <- func() {
		fn()
		close(done)
	}
	<-done
}
