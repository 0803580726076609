package main

import (
	"os"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/cmd/varslingctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
