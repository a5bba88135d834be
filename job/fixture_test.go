package job

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/os/temp"
	"github.com/scootdev/grid/resources"
	"github.com/scootdev/grid/runner/execer/execers"
	"github.com/scootdev/grid/staging"
	"github.com/scootdev/grid/transport"
)

// fixture is one node with a mocked transport and a simulated execer.
type fixture struct {
	ctrl   *gomock.Controller
	tr     *transport.MockTransport
	clk    *testclock.Clock
	sim    *execers.SimExecer
	ledger *resources.Ledger
	env    *Env
	root   *temp.TempDir

	mu    sync.Mutex
	calls []transport.Request
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DebugMode = true
	cfg.WorkerPollInterval = time.Second
	return cfg
}

func newFixture(t *testing.T, self domain.Endpoint, cores int) *fixture {
	ctrl := gomock.NewController(t)
	tr := transport.NewMockTransport(ctrl)
	tr.EXPECT().Endpoint().Return(self).AnyTimes()
	root, err := temp.TempDirDefault()
	require.NoError(t, err)
	clk := testclock.NewClock(time.Now())
	sim := execers.NewSimExecer()
	ledger := resources.NewLedger(resources.New(0, cores, 0, 0))
	return &fixture{
		ctrl:   ctrl,
		tr:     tr,
		clk:    clk,
		sim:    sim,
		ledger: ledger,
		root:   root,
		env: &Env{
			Transport: tr,
			Ledger:    ledger,
			Execer:    sim,
			Scratch:   root,
			Clock:     clk,
			Config:    testConfig(),
		},
	}
}

// quiet accepts every advert and state push.
func (f *fixture) quiet() {
	f.tr.EXPECT().Advertise(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	f.tr.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

// answer routes every Call through handle and records the requests.
func (f *fixture) answer(handle func(to domain.Endpoint, req transport.Request) (interface{}, *domain.DynamicState, error)) {
	f.tr.EXPECT().Call(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, to domain.Endpoint, req transport.Request) (transport.Reply, error) {
			f.mu.Lock()
			f.calls = append(f.calls, req)
			f.mu.Unlock()
			payload, state, err := handle(to, req)
			if err != nil {
				return transport.Reply{}, err
			}
			return transport.NewReply(payload, state)
		}).AnyTimes()
}

func (f *fixture) opcodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, req := range f.calls {
		out = append(out, domain.OpName(req.Role, req.Opcode))
	}
	return out
}

// submit starts a native job running the simulated steps in args.
func (f *fixture) submit(t *testing.T, attrs map[string]string, args ...string) (*Primary, *staging.DirStager) {
	in := filepath.Join(f.root.Dir, "in")
	require.NoError(t, os.MkdirAll(in, 0777))
	require.NoError(t, ioutil.WriteFile(filepath.Join(in, "data.txt"), []byte("input"), 0666))
	manifest, err := staging.BuildManifest(in, []string{"data.txt"})
	require.NoError(t, err)
	desc := domain.Description{
		Kind:        domain.NativeJob,
		Executable:  "#sim",
		Args:        args,
		InputFiles:  manifest,
		OutputFiles: []string{"result.txt"},
	}
	stager, err := staging.NewDirStager(in, filepath.Join(f.root.Dir, "out"), desc)
	require.NoError(t, err)
	p, err := Submit(f.env, desc, attrs, stager)
	require.NoError(t, err)
	return p, stager
}

// invoke sends p a request as if it came from the given constituent.
func invoke(t *testing.T, p *Primary, from domain.Endpoint, op domain.Opcode, payload interface{}, out interface{}) error {
	req, err := transport.NewRequest(p.ID(), domain.PrimaryRole, op, from, payload)
	require.NoError(t, err)
	reply, err := p.Invoke(context.Background(), req)
	if err != nil {
		return err
	}
	if out != nil {
		require.NoError(t, transport.Decode(reply.Payload, out))
	}
	require.NotNil(t, reply.State)
	return nil
}

func register(t *testing.T, p *Primary, from domain.Endpoint, max int) domain.RegisterReply {
	var reply domain.RegisterReply
	require.NoError(t, invoke(t, p, from, domain.OpRegister, domain.RegisterRequest{MaxNrOfWorkers: max}, &reply))
	return reply
}

// waitReaped waits until n workers of h finished.
func waitReaped(t *testing.T, h *workerHost, n int) {
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.finished) >= n
	}, 5*time.Second, 10*time.Millisecond)
}
