package main

import (
	"stockwatch/cmd/stockwatch/commands"
	"stockwatch/internal/components/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
