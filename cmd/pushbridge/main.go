// pushbridge is a small CLI around the push subscription manager. It
// exists for local development against a relay service (or the bundled
// mock relay) and for operating the manager from scripts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ylogx/application-services/pkg/mockrelay"
	"github.com/ylogx/application-services/pkg/push"
	"github.com/ylogx/application-services/pkg/push/bridge"
	"github.com/ylogx/application-services/pkg/storage"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "pushbridge",
	Short: "WebPush bridge subscription manager",
	Long:  "Manages push subscriptions against a relay service: register, subscribe, reconcile, and decrypt incoming payloads",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("server-host", push.DefaultServerHost, "Relay service host")
	flags.String("protocol", "https", "Relay protocol (https or http)")
	flags.String("sender-id", "", "Native OS push application identifier")
	flags.String("bridge-type", "fcm", "Native transport bridge type (fcm, adm, apns)")
	flags.String("token", "", "Native transport registration token")
	flags.String("db", "pushstate.json", "Path of the push state database")
	flags.String("storage-type", "file", "Storage backend (memory, file, s3)")
	flags.String("encryption-secret", "", "Secret for at-rest encryption of the state database")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	for _, name := range []string{"server-host", "protocol", "sender-id", "bridge-type", "token", "db", "storage-type", "encryption-secret"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			log.Printf("Failed to bind %s flag: %v", name, err)
		}
	}
	viper.SetEnvPrefix("PUSHBRIDGE")
	viper.AutomaticEnv()

	rootCmd.AddCommand(subscribeCmd, unsubscribeCmd, updateTokenCmd, verifyCmd, decryptCmd, daemonCmd, mockRelayCmd)
}

func newLogger() *zap.Logger {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	return zap.NewNop()
}

func newManager() (*push.Manager, error) {
	cfg := push.Config{
		SenderID:       viper.GetString("sender-id"),
		ServerHost:     viper.GetString("server-host"),
		HTTPProtocol:   viper.GetString("protocol"),
		BridgeType:     viper.GetString("bridge-type"),
		RegistrationID: viper.GetString("token"),
		DatabasePath:   viper.GetString("db"),
	}
	backend, err := storage.NewStore(storage.Config{
		Type:             viper.GetString("storage-type"),
		FilePath:         cfg.DatabasePath,
		EncryptionSecret: viper.GetString("encryption-secret"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	conn := bridge.NewClient(cfg.ServerURL())
	return push.NewManager(cfg, backend, conn, push.WithLogger(newLogger()))
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
	fmt.Println(string(data))
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe [channel-id]",
	Short: "Create a subscription and print its info block",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		channelID := ""
		if len(args) == 1 {
			channelID = args[0]
		}
		scope, _ := cmd.Flags().GetString("scope")
		serverKey, _ := cmd.Flags().GetString("server-key")

		manager, err := newManager()
		if err != nil {
			log.Fatalf("Failed to initialize manager: %v", err)
		}
		defer func() {
			_ = manager.Close()
		}()

		resp, err := manager.Subscribe(context.Background(), channelID, scope, serverKey)
		if err != nil {
			log.Fatalf("Subscribe failed: %v", err)
		}
		printJSON(resp)
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe [channel-id]",
	Short: "End a subscription, or all subscriptions when no channel id is given",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		channelID := ""
		if len(args) == 1 {
			channelID = args[0]
		}

		manager, err := newManager()
		if err != nil {
			log.Fatalf("Failed to initialize manager: %v", err)
		}
		defer func() {
			_ = manager.Close()
		}()

		ok, err := manager.Unsubscribe(context.Background(), channelID)
		if err != nil {
			log.Fatalf("Unsubscribe failed: %v", err)
		}
		if !ok {
			fmt.Println("unsubscribe incomplete: run verify to detect endpoint churn")
			return
		}
		fmt.Println("unsubscribed")
	},
}

var updateTokenCmd = &cobra.Command{
	Use:   "update-token <token>",
	Short: "Inform the relay that the native transport token changed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		manager, err := newManager()
		if err != nil {
			log.Fatalf("Failed to initialize manager: %v", err)
		}
		defer func() {
			_ = manager.Close()
		}()

		ok, err := manager.Update(context.Background(), args[0])
		if err != nil {
			log.Fatalf("Update failed: %v", err)
		}
		if !ok {
			fmt.Println("relay no longer knows this instance: run verify and resubscribe")
			return
		}
		fmt.Println("token updated")
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Reconcile local subscriptions against the relay",
	Run: func(cmd *cobra.Command, args []string) {
		manager, err := newManager()
		if err != nil {
			log.Fatalf("Failed to initialize manager: %v", err)
		}
		defer func() {
			_ = manager.Close()
		}()

		changed, err := manager.VerifyConnection(context.Background())
		if err != nil {
			log.Fatalf("Verify failed: %v", err)
		}
		if len(changed) == 0 {
			fmt.Println("connection verified: no channels changed")
			return
		}
		printJSON(changed)
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <channel-id> <body>",
	Short: "Decrypt an incoming push message body",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		encoding, _ := cmd.Flags().GetString("encoding")
		salt, _ := cmd.Flags().GetString("salt")
		dh, _ := cmd.Flags().GetString("dh")

		manager, err := newManager()
		if err != nil {
			log.Fatalf("Failed to initialize manager: %v", err)
		}
		defer func() {
			_ = manager.Close()
		}()

		plaintext, err := manager.Decrypt(args[0], args[1], encoding, salt, dh)
		if err != nil {
			log.Fatalf("Decrypt failed: %v", err)
		}
		if _, err := os.Stdout.Write(plaintext); err != nil {
			log.Fatalf("Failed to write plaintext: %v", err)
		}
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run periodic connection verification on a cron schedule",
	Run: func(cmd *cobra.Command, args []string) {
		schedule, _ := cmd.Flags().GetString("schedule")

		manager, err := newManager()
		if err != nil {
			log.Fatalf("Failed to initialize manager: %v", err)
		}
		defer func() {
			_ = manager.Close()
		}()

		c := cron.New()
		_, err = c.AddFunc(schedule, func() {
			changed, err := manager.VerifyConnection(context.Background())
			if err != nil {
				log.Printf("Verify failed: %v", err)
				return
			}
			for _, change := range changed {
				log.Printf("Channel changed: id=%s scope=%s", change.ChannelID, change.Scope)
			}
		})
		if err != nil {
			log.Fatalf("Invalid cron schedule %q: %v", schedule, err)
		}

		log.Printf("Starting verify daemon with schedule %q", schedule)
		c.Start()
		defer c.Stop()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("Shutting down")
	},
}

var mockRelayCmd = &cobra.Command{
	Use:   "mockrelay",
	Short: "Run a local mock relay bridge for development",
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")

		server := mockrelay.NewServer(newLogger())
		log.Printf("Starting mock relay on %s", addr)
		if err := server.Start(addr); err != nil {
			log.Fatalf("Mock relay failed: %v", err)
		}
	},
}

func init() {
	subscribeCmd.Flags().String("scope", "", "Consumer scope string for the subscription")
	subscribeCmd.Flags().String("server-key", "", "VAPID public key to pin the subscription to")
	decryptCmd.Flags().String("encoding", "aes128gcm", "Content encoding of the message")
	decryptCmd.Flags().String("salt", "", "Salt header for the legacy aesgcm encoding")
	decryptCmd.Flags().String("dh", "", "Crypto-Key dh header for the legacy aesgcm encoding")
	daemonCmd.Flags().String("schedule", "@daily", "Cron schedule for connection verification")
	mockRelayCmd.Flags().String("addr", ":8990", "Listen address for the mock relay")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
