package main

import (
	"os"

	"github.com/medidispatch/dispatch-core/cmd"
	"github.com/medidispatch/dispatch-core/infra/logger"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logger.New("main").Errorf("%v", err)
		os.Exit(1)
	}
}
