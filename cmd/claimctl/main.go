package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	root, c := newRootCommand()
	err := root.Execute()
	c.close()
	if err != nil {
		logrus.WithError(err).Error("claimctl failed")
		os.Exit(1)
	}
}
