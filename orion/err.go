package orion

import "fmt"

// Handle panics with a wrapped error if err is not nil. The message is
// formatted from desc and args.
func Handle(err error, desc string, args ...any) {
	if err != nil {
		text := fmt.Sprintf(desc, args...)
		panic(fmt.Errorf("%s: %w", text, err))
	}
}
