// Command pkgbroker runs the privileged package installation broker.
package main

import "github.com/oshokin/pkgbroker/cmd/pkgbroker/cmd"

func main() {
	cmd.Execute()
}
