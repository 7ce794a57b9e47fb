//go:build property

package merkle

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMerkleProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("root is deterministic", prop.ForAll(
		func(refs []string) bool {
			return Root(refs) == Root(refs)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("every ref is provable against the root", prop.ForAll(
		func(refs []string) bool {
			tree := Build(refs)
			root := tree.Root()
			for _, ref := range refs {
				proof, ok := tree.Prove(ref)
				if !ok || !Verify(proof, root) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.Property("appending a ref changes the root", prop.ForAll(
		func(refs []string, extra string) bool {
			return Root(refs) != Root(append(append([]string(nil), refs...), extra))
		},
		gen.SliceOf(gen.Identifier()),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
