package memory

import (
	"testing"

	"github.com/animus-labs/qmt/internal/repo"
	"github.com/animus-labs/qmt/internal/repo/repotest"
)

func TestStoreContract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repo.RecordStore {
		return New()
	})
}
