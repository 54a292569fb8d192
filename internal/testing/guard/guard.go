package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("ROLEMEDIC_TEST_MODE") == "" {
			_ = os.Setenv("ROLEMEDIC_TEST_MODE", "1")
		}
	})
}
