// Command pkgbroker-client talks to a running pkgbroker.
package main

import "github.com/oshokin/pkgbroker/cmd/pkgbroker-client/cmd"

func main() {
	cmd.Execute()
}
