package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
	"github.com/eliteGoblin/focusd/errwatch/internal/infra"
	"github.com/eliteGoblin/focusd/errwatch/internal/pattern"
	"github.com/eliteGoblin/focusd/errwatch/internal/usecase"
)

func openIgnoreStore() (*infra.FileIgnoreStore, error) {
	cfg, err := loadConfig(resolvePaths(), nil)
	if err != nil {
		return nil, err
	}
	return infra.NewFileIgnoreStore(cfg.IgnoreFile, cliLogger())
}

func runIgnoreList(cmd *cobra.Command, args []string) error {
	store, err := openIgnoreStore()
	if err != nil {
		return err
	}

	fps := store.List()
	if len(fps) == 0 {
		fmt.Println("No errors are being ignored.")
		return nil
	}
	for _, fp := range fps {
		fmt.Println(fp.String())
	}
	fmt.Printf("\n%d ignored (%s)\n", len(fps), store.Path())
	return nil
}

func runIgnoreAdd(cmd *cobra.Command, args []string) error {
	fps, err := parseFingerprints(args)
	if err != nil {
		return err
	}
	store, err := openIgnoreStore()
	if err != nil {
		return err
	}

	for _, fp := range fps {
		if store.Add(fp) {
			fmt.Printf("Ignoring %s\n", fp)
		} else {
			fmt.Printf("%s was already ignored\n", fp)
		}
	}
	return nil
}

func runIgnoreRemove(cmd *cobra.Command, args []string) error {
	fps, err := parseFingerprints(args)
	if err != nil {
		return err
	}
	store, err := openIgnoreStore()
	if err != nil {
		return err
	}

	for _, fp := range fps {
		if err := store.Remove(fp); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				fmt.Printf("%s was not ignored\n", fp)
				continue
			}
			return err
		}
		fmt.Printf("Reporting %s again\n", fp)
	}
	return nil
}

func parseFingerprints(args []string) ([]domain.Fingerprint, error) {
	fps := make([]domain.Fingerprint, 0, len(args))
	for _, a := range args {
		fp, err := domain.ParseFingerprint(a)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", a, err)
		}
		fps = append(fps, fp)
	}
	return fps, nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	path := patternsPath
	if path == "" {
		cfg, err := loadConfig(resolvePaths(), nil)
		if err != nil {
			return err
		}
		path = cfg.PatternsFile
	}

	patterns, err := loadPatterns(path)
	if err != nil {
		return err
	}

	if listPatterns {
		return printPatterns(cmd.OutOrStdout(), patterns)
	}
	_, err = classifyLines(os.Stdin, cmd.OutOrStdout(), usecase.NewClassifier(patterns))
	return err
}

// printPatterns writes one pattern per line, quoted so that leading or
// trailing spaces stay visible.
func printPatterns(w io.Writer, patterns *pattern.Set) error {
	for i, p := range patterns.All() {
		if _, err := fmt.Fprintf(w, "%3d %q\n", i+1, p); err != nil {
			return err
		}
	}
	return nil
}

// classifyLines prints "#FP process message" for each error line in r and
// returns how many lines matched.
func classifyLines(r io.Reader, w io.Writer, classifier *usecase.Classifier) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	matched := 0
	for scanner.Scan() {
		ev, ok := classifier.Classify(scanner.Text(), time.Now())
		if !ok {
			continue
		}
		matched++
		if _, err := fmt.Fprintf(w, "%s %s %s\n", usecase.Fingerprint(ev), ev.Process, ev.Message); err != nil {
			return matched, err
		}
	}
	if err := scanner.Err(); err != nil {
		return matched, fmt.Errorf("failed to read input: %w", err)
	}
	return matched, nil
}

// settableSecrets maps accepted key spellings to store keys.
var settableSecrets = map[string]string{
	domain.SecretBotToken: domain.SecretBotToken,
	domain.SecretChatID:   domain.SecretChatID,
	"TELEGRAM_BOT_TOKEN":  domain.SecretBotToken,
	"TELEGRAM_CHAT_ID":    domain.SecretChatID,
}

// deletableSecret resolves a key for "secrets delete". Besides the
// credentials, the saved command cursor may be dropped so the next run
// starts from the updates Telegram still holds.
func deletableSecret(arg string) (string, error) {
	if key, ok := settableSecrets[arg]; ok {
		return key, nil
	}
	if arg == domain.SecretUpdateOffset {
		return arg, nil
	}
	return "", fmt.Errorf("%w: unknown secret %q (expected %s, %s or %s)", domain.ErrInvalidArgument,
		arg, domain.SecretBotToken, domain.SecretChatID, domain.SecretUpdateOffset)
}

// secretDeleter is the part of the secret store "secrets delete" needs.
type secretDeleter interface {
	DeleteSecret(key string) error
}

var _ secretDeleter = (*infra.EncryptedSecretStore)(nil)

// deleteSecret removes key and describes the result. A missing key is
// reported, not treated as a failure.
func deleteSecret(store secretDeleter, key string) (string, error) {
	err := store.DeleteSecret(key)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Sprintf("%s was not stored", key), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted %s", key), nil
}

func runSecretsSet(cmd *cobra.Command, args []string) error {
	key, ok := settableSecrets[args[0]]
	if !ok {
		return fmt.Errorf("unknown secret %q (expected %s or %s)", args[0], domain.SecretBotToken, domain.SecretChatID)
	}

	store, err := infra.OpenSecretStore(resolvePaths())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetSecret(key, strings.TrimSpace(args[1])); err != nil {
		return err
	}
	fmt.Printf("Stored %s in %s\n", key, store.Path())
	return nil
}

func runSecretsDelete(cmd *cobra.Command, args []string) error {
	key, err := deletableSecret(args[0])
	if err != nil {
		return err
	}

	store, err := infra.OpenSecretStore(resolvePaths())
	if err != nil {
		return err
	}
	defer store.Close()

	out, err := deleteSecret(store, key)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runSecretsShow(cmd *cobra.Command, args []string) error {
	store, err := infra.OpenSecretStore(resolvePaths())
	if err != nil {
		return err
	}
	defer store.Close()

	all, err := store.GetAllSecrets()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-20s %s\n", k, maskSecret(k, all[k]))
	}
	return nil
}

// maskSecret hides all but the first characters of the bot token.
func maskSecret(key, value string) string {
	if key != domain.SecretBotToken {
		return value
	}
	if len(value) <= 6 {
		return strings.Repeat("*", len(value))
	}
	return value[:6] + strings.Repeat("*", len(value)-6)
}

func runInstall(cmd *cobra.Command, args []string) error {
	paths := resolvePaths()
	fmt.Printf("Execution mode: %s\n", paths.Mode)

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = resolved
	}

	absConfig := configPath
	if absConfig != "" {
		if absConfig, err = filepath.Abs(absConfig); err != nil {
			return fmt.Errorf("failed to resolve config path: %w", err)
		}
	}

	installer := infra.NewSystemdInstaller(paths, absConfig, cliLogger())
	if installer.IsInstalled() && !installer.NeedsUpdate(execPath) {
		fmt.Printf("Already installed: %s\n", installer.GetUnitPath())
		return nil
	}
	if err := installer.Install(execPath); err != nil {
		return err
	}
	fmt.Printf("Installed %s\n", installer.GetUnitPath())
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	installer := infra.NewSystemdInstaller(resolvePaths(), "", cliLogger())
	if !installer.IsInstalled() {
		fmt.Println("Not installed.")
		return nil
	}
	if err := installer.Uninstall(); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", installer.GetUnitPath())
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("errwatch %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
