package main

import (
	"os"

	appLog "calalarm/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		appLog.Error("calalarm failed", err)
		os.Exit(1)
	}
}
