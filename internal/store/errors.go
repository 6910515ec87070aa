package store

import (
	"fmt"

	"github.com/nmxmxh/coreruntime/internal/coreerr"
)

func validationErrorf(format string, args ...interface{}) error {
	return coreerr.Wrap(coreerr.Validation, "store.validate", fmt.Errorf(format, args...))
}
