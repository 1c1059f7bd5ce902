package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bapelauto/coord/internal/config"
	"github.com/bapelauto/coord/internal/session"
	"github.com/bapelauto/coord/internal/shard"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and edit the shared configuration layer",
	Long: `Config reads and edits the shared configuration file that instances
without a configuration of their own start from.

Instances keep their own file under shards/ and are not affected by edits
here until they fall back to the shared layer. When the shared file does
not exist the built-in defaults apply.

Available keys:
  leftClickEnabled, rightClickEnabled, autoStealEnabled,
  autoStoreEnabled, commandEnabled, enableAutoLoad,
  enableResetPerRealm                              true or false
  leftClickDelay, rightClickDelay, targetClickDelay,
  inventoryDelay, commandDelay                     milliseconds
  command                                          text`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective shared configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one value of the shared configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show where coordination files are stored",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a value in the shared configuration",
	Long: `Set writes one value to the shared configuration file, creating it
from the defaults if it does not exist.

Examples:
  bapelctl config set commandDelay 30000
  bapelctl config set command "/sell hand"
  bapelctl config set autoStealEnabled true`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge a .properties file into the shared configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigImport,
}

var configExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the effective shared configuration to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigExport,
}

var configResetCmd = &cobra.Command{
	Use:   "reset [key]",
	Short: "Reset the shared configuration to defaults",
	Long: `Reset overwrites the shared configuration file with the defaults.
With a key argument only that key is reset.

Examples:
  bapelctl config reset              # Reset all to defaults
  bapelctl config reset commandDelay # Reset only commandDelay`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigReset,
}

var configSetForce bool

func init() {
	configSetCmd.Flags().BoolVarP(&configSetForce, "force", "f", false, "allow keys that are not built in")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configImportCmd)
	configCmd.AddCommand(configExportCmd)
	configCmd.AddCommand(configResetCmd)
	rootCmd.AddCommand(configCmd)
}

// keyKind describes the accepted values of a built-in key.
type keyKind int

const (
	kindText keyKind = iota
	kindBool
	kindMillis
)

var keyKinds = map[string]keyKind{
	shard.KeyLeftClickEnabled:    kindBool,
	shard.KeyRightClickEnabled:   kindBool,
	shard.KeyAutoStealEnabled:    kindBool,
	shard.KeyAutoStoreEnabled:    kindBool,
	shard.KeyCommandEnabled:      kindBool,
	shard.KeyEnableAutoLoad:      kindBool,
	shard.KeyEnableResetPerRealm: kindBool,
	shard.KeyLeftClickDelay:      kindMillis,
	shard.KeyRightClickDelay:     kindMillis,
	shard.KeyTargetClickDelay:    kindMillis,
	shard.KeyInventoryDelay:      kindMillis,
	shard.KeyCommandDelay:        kindMillis,
	shard.KeyCommand:             kindText,
}

// normalizeValue checks value against the kind of key and returns the form
// that is written to disk.
func normalizeValue(key, value string, force bool) (string, error) {
	kind, ok := keyKinds[key]
	if !ok {
		if !force {
			return "", fmt.Errorf("unknown configuration key: %s\nRun 'bapelctl config --help' to see valid keys, or use --force", key)
		}
		return value, nil
	}

	switch kind {
	case kindBool:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true":
			return "true", nil
		case "false":
			return "false", nil
		}
		return "", fmt.Errorf("invalid value for %s: expected true or false", key)
	case kindMillis:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid value for %s: expected an integer number of milliseconds", key)
		}
		if n < 0 {
			return "", fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return strconv.FormatInt(n, 10), nil
	default:
		return value, nil
	}
}

func sharedFile() (*shard.SharedFile, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return shard.NewSharedFile(afero.NewOsFs(), cfg.Paths.ResolveBaseDir()), nil
}

func readShared() (*shard.SharedFile, map[string]string, shard.Layer, error) {
	f, err := sharedFile()
	if err != nil {
		return nil, nil, shard.LayerDefaults, err
	}
	values, layer, err := f.Read()
	if err != nil {
		return nil, nil, shard.LayerDefaults, err
	}
	return f, values, layer, nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	f, values, layer, err := readShared()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if layer == shard.LayerShared {
		fmt.Fprintf(out, "Shared configuration: %s\n", f.Path())
	} else {
		fmt.Fprintf(out, "Shared configuration: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s = %s\n", k, values[k])
	}
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	_, values, _, err := readShared()
	if err != nil {
		return err
	}
	v, ok := values[args[0]]
	if !ok {
		return fmt.Errorf("key %s is not set", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	base := cfg.Paths.ResolveBaseDir()

	toolConfig := viper.ConfigFileUsed()
	if toolConfig == "" {
		toolConfig = config.ConfigFile()
	}
	if _, err := os.Stat(toolConfig); err != nil {
		toolConfig += " (not present)"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tool config:     %s\n", toolConfig)
	fmt.Fprintf(out, "Base directory:  %s\n", base)
	fmt.Fprintf(out, "Shared config:   %s\n", filepath.Join(base, shard.SharedFileName))
	fmt.Fprintf(out, "Instance config: %s\n", filepath.Join(base, shard.ShardsDir))
	fmt.Fprintf(out, "Backups:         %s\n", filepath.Join(base, shard.BackupsDir))
	fmt.Fprintf(out, "Sessions:        %s\n", filepath.Join(base, session.SessionsDir))
	fmt.Fprintf(out, "Logs:            %s\n", cfg.LogDir())
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value, err := normalizeValue(key, args[1], configSetForce)
	if err != nil {
		return err
	}

	f, values, _, err := readShared()
	if err != nil {
		return err
	}
	values[key] = value
	if err := f.Write(cmd.Context(), values); err != nil {
		return fmt.Errorf("failed to write shared configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
	return nil
}

func runConfigImport(cmd *cobra.Command, args []string) error {
	incoming, err := shard.ReadFile(afero.NewOsFs(), args[0])
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("file not found: %s", args[0])
		}
		return err
	}

	f, values, _, err := readShared()
	if err != nil {
		return err
	}
	for k, v := range incoming {
		values[k] = v
	}
	if err := f.Write(cmd.Context(), values); err != nil {
		return fmt.Errorf("failed to write shared configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d key(s) from %s\n", len(incoming), args[0])
	return nil
}

func runConfigExport(cmd *cobra.Command, args []string) error {
	_, values, _, err := readShared()
	if err != nil {
		return err
	}
	dst := args[0]
	if err := shard.WriteFile(cmd.Context(), afero.NewOsFs(), dst, values, "bapelauto exported configuration"); err != nil {
		return fmt.Errorf("failed to export configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d key(s) to %s\n", len(values), dst)
	return nil
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		f, err := sharedFile()
		if err != nil {
			return err
		}
		if err := f.Reset(cmd.Context()); err != nil {
			return fmt.Errorf("failed to reset shared configuration: %w", err)
		}
		fmt.Fprintln(out, "Shared configuration reset to defaults")
		return nil
	}

	key := args[0]
	def, ok := shard.Defaults()[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	f, values, _, err := readShared()
	if err != nil {
		return err
	}
	values[key] = def
	if err := f.Write(cmd.Context(), values); err != nil {
		return fmt.Errorf("failed to write shared configuration: %w", err)
	}
	fmt.Fprintf(out, "Reset %s to %s\n", key, def)
	return nil
}
