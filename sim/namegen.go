package sim

import (
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

var nameGeneratorMutex sync.Mutex
var nameGeneratorInstantiated bool
var nameGenerator NameGenerator

// NameGenerator produces names for blocks created without one.
type NameGenerator interface {
	// Generate returns a fresh name for a block of the given type.
	Generate(blockType string) string
}

// UseSequentialNameGenerator configures generated block names to be
// sequential. Sequential names are deterministic across runs, which keeps
// persistence keys stable.
func UseSequentialNameGenerator() {
	nameGeneratorMutex.Lock()
	defer nameGeneratorMutex.Unlock()

	if nameGeneratorInstantiated {
		log.Panic("cannot change name generator type after using it")
	}

	nameGenerator = &sequentialNameGenerator{}
	nameGeneratorInstantiated = true
}

// UseRandomNameGenerator configures generated block names to be globally
// unique random IDs. Random names are safe when several circuits are built
// concurrently, but they are not deterministic.
func UseRandomNameGenerator() {
	nameGeneratorMutex.Lock()
	defer nameGeneratorMutex.Unlock()

	if nameGeneratorInstantiated {
		log.Panic("cannot change name generator type after using it")
	}

	nameGenerator = randomNameGenerator{}
	nameGeneratorInstantiated = true
}

// GetNameGenerator returns the name generator in use, defaulting to the
// sequential one.
func GetNameGenerator() NameGenerator {
	nameGeneratorMutex.Lock()
	defer nameGeneratorMutex.Unlock()

	if !nameGeneratorInstantiated {
		nameGenerator = &sequentialNameGenerator{}
		nameGeneratorInstantiated = true
	}

	return nameGenerator
}

type sequentialNameGenerator struct {
	nextID uint64
}

func (g *sequentialNameGenerator) Generate(blockType string) string {
	idNumber := atomic.AddUint64(&g.nextID, 1)
	return "_" + blockType + "_" + strconv.FormatUint(idNumber, 10)
}

type randomNameGenerator struct{}

func (g randomNameGenerator) Generate(blockType string) string {
	return "_" + blockType + "_" + xid.New().String()
}
