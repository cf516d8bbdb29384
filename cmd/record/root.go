package record

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dSync/cmd/util"
	"github.com/ValentinKolb/dSync/lib/protocol"
	"github.com/ValentinKolb/dSync/rpc/client"
	"github.com/ValentinKolb/dSync/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcClient *client.RecordClient

	// RecordCommands represents the record command group
	RecordCommands = &cobra.Command{
		Use:                "record",
		Short:              "Read, write, observe and provide records",
		PersistentPreRunE:  setupRecordClient,
		PersistentPostRunE: closeRecordClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the record command
	util.SetupRPCClientFlags(RecordCommands)

	// Add subcommands
	RecordCommands.AddCommand(getCmd)
	RecordCommands.AddCommand(setCmd)
	RecordCommands.AddCommand(updateCmd)
	RecordCommands.AddCommand(observeCmd)
	RecordCommands.AddCommand(syncCmd)
	RecordCommands.AddCommand(provideCmd)
	RecordCommands.AddCommand(statsCmd)
	RecordCommands.AddCommand(perfTestCmd)
}

// setupRecordClient connects the record client
func setupRecordClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	level := viper.GetString("log-level")
	if _, err := common.ParseLogLevel(level); err != nil {
		return err
	}
	common.InitLoggers(level)

	config := util.GetClientConfig()

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	rpcClient = client.NewRecordClient(config, t, s, func(err *protocol.Error) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	})
	return nil
}

func closeRecordClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}
