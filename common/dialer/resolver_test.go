package dialer

import (
	"os"
	"testing"
)

func TestConstantResolver(t *testing.T) {
	addr := "127.0.0.1:30"
	c := NewConstantResolver(addr)

	res, err := c.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if res != addr {
		t.Fatalf("got: %s, want: %s", res, addr)
	}

	slice, err := c.ResolveMany(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(slice) != 1 || slice[0] != addr {
		t.Fatalf("got: %s, want: %s", slice, []string{addr})
	}
}

func TestEnvResolver(t *testing.T) {
	addr := "127.0.0.1:30"
	os.Setenv("GRID_TEST_ADDR", addr)
	defer os.Unsetenv("GRID_TEST_ADDR")
	e := NewEnvResolver("GRID_TEST_ADDR")

	res, err := e.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if res != addr {
		t.Fatalf("got: %s, want: %s", res, addr)
	}
}

func TestCompositeResolver(t *testing.T) {
	addr := "127.0.0.1:30"
	peers := "1.2.3.4:99, 5.6.7.8:99,"
	c := NewConstantResolver(addr)
	e := NewEnvResolver("GRID_TEST_PEERS")
	cr := NewCompositeResolver(e, c)

	res, err := cr.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if res != addr {
		t.Fatalf("got: %s, want: %s", res, addr)
	}

	os.Setenv("GRID_TEST_PEERS", peers)
	defer os.Unsetenv("GRID_TEST_PEERS")

	slice, err := cr.ResolveMany(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(slice) != 2 || slice[0] != "1.2.3.4:99" || slice[1] != "5.6.7.8:99" {
		t.Fatalf("got: %s, want two peers from %q", slice, peers)
	}
	if slice, _ = cr.ResolveMany(1); len(slice) != 1 {
		t.Fatalf("got: %s, want one peer", slice)
	}

	if _, err := NewCompositeResolver().Resolve(); err == nil {
		t.Fatal("expected an error with no delegates")
	}
}
