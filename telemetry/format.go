package telemetry

import "fmt"

func stringify(v interface{}) string {
	return fmt.Sprint(v)
}
