package main

import (
	"log/slog"
	"os"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"idledger/internal/fingerprint"
	"idledger/internal/ledger/fabric"
	"idledger/internal/platform/config"
	"idledger/internal/platform/logger"
	"idledger/internal/registry"
)

// main starts the registry chaincode, either launched by the peer or as an
// external chaincode service.
func main() {
	cfg, err := config.ChaincodeFromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.NewWithWriter(os.Stderr, cfg.Log.Format, cfg.Log.Level)

	contract := fabric.NewContract(registry.NewMachine(fingerprint.New(cfg.Fingerprint)), cfg.GenesisAdmin, log)
	cc, err := contractapi.NewChaincode(contract)
	if err != nil {
		log.Error("failed to create chaincode", "error", err)
		os.Exit(1)
	}

	if cfg.Fabric.ChaincodeAddress == "" {
		log.Info("starting chaincode", "fingerprint", cfg.Fingerprint, "genesis_admin", cfg.GenesisAdmin)
		if err := cc.Start(); err != nil {
			log.Error("chaincode stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	server := &shim.ChaincodeServer{
		CCID:     cfg.Fabric.ChaincodeID,
		Address:  cfg.Fabric.ChaincodeAddress,
		CC:       cc,
		TLSProps: shim.TLSProperties{Disabled: true},
	}
	log.Info("starting chaincode service", "address", cfg.Fabric.ChaincodeAddress, "ccid", cfg.Fabric.ChaincodeID)
	if err := server.Start(); err != nil {
		log.Error("chaincode service stopped", "error", err)
		os.Exit(1)
	}
}
