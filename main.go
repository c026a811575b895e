// The main package for the harvester executable.
package main

import "github.com/webharvest/harvester/cmd"

func main() {
	cmd.Execute()
}
