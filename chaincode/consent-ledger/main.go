package main

import (
	"log"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/medrex/consent-ledger/chaincode/consent-ledger/consentledger"
)

func main() {
	consentChaincode, err := contractapi.NewChaincode(&consentledger.SmartContract{})
	if err != nil {
		log.Panicf("Error creating ConsentLedger chaincode: %v", err)
	}

	if err := consentChaincode.Start(); err != nil {
		log.Panicf("Error starting ConsentLedger chaincode: %v", err)
	}
}
