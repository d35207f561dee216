package main

import (
	"fnet-dataget/cmd/fnet-cli/commands"
	"fnet-dataget/internal/serviceutil"
)

func main() {
	ctx, cancel := serviceutil.SignalContext()
	defer cancel()
	commands.ExecuteContext(ctx)
}
