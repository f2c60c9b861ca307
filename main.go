package main

import (
	"github.com/clusterkit/elector/cmd"
)

func main() {
	cmd.Execute()
}
