package deploy

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/forge/pkg/execute"
)

// fakeExecutor is a scriptable execute.Executor: tests register how it
// should respond to commands containing a given substring, and it
// records every command it was asked to run for assertions.
type fakeExecutor struct {
	mu       sync.Mutex
	calls    []string
	handlers []handler
	uploads  map[string][]byte
}

type handler struct {
	contains string
	result   *execute.Result
	err      error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{uploads: map[string][]byte{}}
}

func (f *fakeExecutor) on(substr string, result *execute.Result, err error) {
	f.handlers = append(f.handlers, handler{contains: substr, result: result, err: err})
}

func (f *fakeExecutor) Run(ctx context.Context, host, user, cmd string, stdin io.Reader, timeout time.Duration) (*execute.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	for _, h := range f.handlers {
		if strings.Contains(cmd, h.contains) {
			return h.result, h.err
		}
	}
	return &execute.Result{ExitCode: 0}, nil
}

func (f *fakeExecutor) Upload(ctx context.Context, host, user, path string, data io.Reader, mode uint32) error {
	buf := make([]byte, 0)
	tmp := make([]byte, 4096)
	for {
		n, err := data.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	f.mu.Lock()
	f.uploads[path] = buf
	f.mu.Unlock()
	return nil
}

func (f *fakeExecutor) Download(ctx context.Context, host, user, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[path], nil
}

func (f *fakeExecutor) ExecInContainer(ctx context.Context, host, user, container, cmd string, timeout time.Duration) (*execute.Result, error) {
	return &execute.Result{}, nil
}

func (f *fakeExecutor) callCount(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}
