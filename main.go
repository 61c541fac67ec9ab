// main.go
//
// Entry point delegating CLI handling to the cobra root command in cmd/root.go

package main

import (
	"github.com/notargets/ResGather/cmd"
)

func main() {
	cmd.Execute()
}
