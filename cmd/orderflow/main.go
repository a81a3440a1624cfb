// orderflow routes market swap orders to the best Solana DEX venue and
// streams lifecycle updates back to clients.
package main

import (
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	mbp "go.gazette.dev/core/mainboilerplate"

	"github.com/riptidelabs/orderflow/go/runtime"
)

const iniFilename = "orderflow.ini"

// Config is the top-level configuration of the orderflow service.
var Config = new(runtime.Config)

func main() {
	// A local .env supplements the process environment before options
	// parse, the way deployment tooling seeds configuration.
	_ = godotenv.Load()

	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve the order-execution service", `
Run the orderflow service: accept market orders over HTTP, route each to
the best venue quote, submit the swap on chain, and stream lifecycle
updates to subscribers, until signaled to exit (via SIGTERM).
`, &cmdServe{})

	_, _ = parser.AddCommand("submit", "Submit an order and stream its lifecycle", `
Place a market order against a running orderflow service and follow its
status updates until the order confirms or fails.
`, &cmdSubmit{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
