package memory

import (
	"testing"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/adapter/out/sqlstore/sqlstoretest"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/usecase"
)

func TestBackend_Contract(t *testing.T) {
	t.Parallel()

	sqlstoretest.Run(t, func(t *testing.T) usecase.Backend {
		return NewBackend()
	})
}
