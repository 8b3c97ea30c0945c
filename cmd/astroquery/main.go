package main

import (
	"astroquery/cmd/astroquery/commands"
	"astroquery/lib/util/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
