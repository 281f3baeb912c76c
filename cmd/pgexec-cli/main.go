// Command pgexec-cli is a small demonstration tool that exercises the
// pgproto executor end to end over a real TCP connection. It is not a
// driver facade: it dials a bare net.Conn and performs the minimal
// startup handshake itself (handshake.go), outside the core package,
// solely so the rest of this program can drive Execute against a live
// server. Its one subcommand, query, runs a single statement; Fetch,
// StartCopy and FastpathCall are not exposed.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgexec/pgproto"
	"github.com/pgexec/pgproto/config"
	"github.com/pgexec/pgproto/query"
)

var (
	host       string
	port       int
	user       string
	database   string
	configFile string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pgexec-cli",
	Short: "Exercise the pgproto executor core against a live PostgreSQL server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var queryCmd = &cobra.Command{
	Use:     "query <sql>",
	Short:   "Run one SQL statement through the extended-query pipeline and print its result",
	Example: "  pgexec-cli query \"select 1\" --host localhost --port 5432 --user postgres",
	Args:    cobra.ExactArgs(1),
	RunE:    runQuery,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&host, "host", "localhost", "server host")
	rootCmd.PersistentFlags().IntVar(&port, "port", 5432, "server port")
	rootCmd.PersistentFlags().StringVar(&user, "user", "postgres", "startup user")
	rootCmd.PersistentFlags().StringVar(&database, "dbname", "postgres", "startup database")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML file of connection options, resolved via the config package")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))

	rootCmd.AddCommand(queryCmd)
}

func newLogger() *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// dialAndHandshake dials host:port, performs the minimal startup
// handshake, and returns a ready pgproto.Executor.
func dialAndHandshake(logger *slog.Logger) (*pgproto.Executor, net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	if err := startup(conn, user, database); err != nil {
		conn.Close()
		return nil, nil, err
	}

	streamOpts := []pgproto.Option{pgproto.WithLogger(logger)}

	if configFile != "" {
		raw, err := config.LoadYAML(configFile)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}

		resolved, err := config.Resolve(raw)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}

		streamOpts = resolved.StreamOptions(logger)
	}

	stream := pgproto.NewStream(conn, streamOpts...)
	return pgproto.NewExecutor(stream), conn, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	exec, conn, err := dialAndHandshake(logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	q := exec.Stream().CreateSimpleQuery(args[0])
	handler := &printingHandler{}

	if err := exec.Execute(q, query.NewParameterList(0), handler, 0, 0, 0); err != nil {
		return fmt.Errorf("executing query: %w", err)
	}

	if len(handler.errs) > 0 {
		return fmt.Errorf("server reported %d error(s)", len(handler.errs))
	}

	return nil
}
