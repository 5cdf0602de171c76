package main

import (
	"os"

	rvg "github.com/CovidWA/remaining-vaccine"
)

func main() {
	os.Exit(rvg.Run(os.Args))
}
