package main

import "github.com/medrex/consent-ledger/cmd/consentctl/cmd"

func main() {
	cmd.Execute()
}
