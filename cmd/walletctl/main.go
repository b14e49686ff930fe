// Command walletctl generates ed25519 wallet keys and signs in against a
// running server. It is a development aid for exercising the wallet flow.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.New().Error(err)
		os.Exit(1)
	}
}
