package sim

import (
	"context"
	"sync"
	"time"
)

// nand is a test combinational block with inputs "a" and "b". With "a" wired
// to a constant true it acts as an inverter of "b".
type nand struct {
	CBlockBase

	calcCount int
}

func newNand(c *Circuit, name string) *nand {
	n := new(nand)
	n.InitCBlock(c, n, name)

	return n
}

func (n *nand) Calc() (Value, error) {
	n.calcCount++
	return !(Truthy(n.InVal("a")) && Truthy(n.InVal("b"))), nil
}

// adder is a test combinational block summing its positional input group.
type adder struct {
	CBlockBase

	calcCount int
}

func newAdder(c *Circuit, name string) *adder {
	a := new(adder)
	a.InitCBlock(c, a, name)

	return a
}

func (a *adder) Calc() (Value, error) {
	a.calcCount++

	sum := 0
	for _, v := range a.GroupVals(UnnamedGroup) {
		sum += v.(int)
	}

	return sum, nil
}

// register is a minimal sequential test block: a "put" event stores the
// payload "value" field as the output.
type register struct {
	SBlockBase
}

func newRegister(c *Circuit, name string, opts ...Option) *register {
	r := new(register)
	r.InitSBlock(c, r, name, opts...)

	r.RegisterEventHandler("put", func(data Data) (Value, error) {
		return true, r.SetOutput(data["value"])
	})

	return r
}

// mapStore is an in-memory Store for tests that do not assert interactions.
type mapStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string]string)}
}

func (s *mapStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]

	return v, ok, nil
}

func (s *mapStore) Put(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value

	return nil
}

func (s *mapStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)

	return nil
}

func (s *mapStore) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}

	return keys, nil
}

// runCircuit starts Run on its own goroutine and waits for initialization.
// The returned function shuts the circuit down and reports Run's result.
func runCircuit(ctx context.Context, c *Circuit) (waitErr error, stop func() error) {
	runErr := make(chan error, 1)

	go func() {
		runErr <- c.Run(ctx)
	}()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	waitErr = c.WaitInit(initCtx)

	return waitErr, func() error {
		c.Abort(context.Canceled)
		return <-runErr
	}
}
