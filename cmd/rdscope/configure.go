package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rdscope/rdscope-go/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactive setup wizard (with OS keychain support)",
	Long: `Walk through RDScope configuration step-by-step with secure credential
storage.

This will configure:
1. OpenAI API key (stored in OS keychain when available)
2. GitHub token for repository access
3. Company name for generated reports`,
	RunE: runConfigure,
}

func runConfigure(cmd *cobra.Command, args []string) error {
	fmt.Println("RDScope Configuration Wizard")
	fmt.Println("----------------------------")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	homeDir, _ := os.UserHomeDir()
	configPath := filepath.Join(homeDir, ".rdscope", "config.yaml")
	loadedCfg, err := config.Load(configPath)
	if err != nil {
		loadedCfg = config.Default()
	}

	km := config.NewKeyringManager()
	keychainAvailable := km.IsAvailable()
	if !keychainAvailable {
		fmt.Println("OS keychain not available (headless system or Linux without libsecret).")
		fmt.Println("Credentials will be stored in the config file instead.")
		fmt.Println()
	}

	// Step 1: OpenAI API key
	fmt.Println("Step 1/3: OpenAI API Key")
	sourceInfo := km.GetAPIKeySource(loadedCfg)
	keepExisting := false
	if sourceInfo.Source != "none" {
		fmt.Printf("Current: %s (source: %s)\n", config.MaskAPIKey(loadedCfg.API.OpenAIKey), sourceInfo.Source)
		fmt.Print("Keep existing key? (Y/n): ")
		response := readLine(reader)
		keepExisting = response == "" || strings.EqualFold(response, "y")
	}

	if !keepExisting {
		fmt.Print("Enter your OpenAI API key (starts with sk-...): ")
		apiKey := readLine(reader)
		switch {
		case !strings.HasPrefix(apiKey, "sk-"):
			fmt.Println("Invalid API key format (should start with sk-), skipping.")
		case keychainAvailable:
			if err := km.SaveAPIKey(apiKey); err != nil {
				fmt.Printf("Keychain save failed (%v), storing in config file.\n", err)
				loadedCfg.API.OpenAIKey = apiKey
			} else {
				fmt.Println("API key stored in OS keychain.")
				loadedCfg.API.OpenAIKey = ""
				loadedCfg.API.UseKeychain = true
			}
		default:
			loadedCfg.API.OpenAIKey = apiKey
			loadedCfg.API.UseKeychain = false
		}
	}
	fmt.Println()

	// Step 2: GitHub token
	fmt.Println("Step 2/3: GitHub Token")
	if loadedCfg.GitHub.Token != "" {
		fmt.Printf("Current: %s\n", config.MaskAPIKey(loadedCfg.GitHub.Token))
	}
	fmt.Print("Enter your GitHub token (blank to keep current): ")
	if token := readLine(reader); token != "" {
		if keychainAvailable {
			if err := km.SetGitHubToken(token); err == nil {
				fmt.Println("GitHub token stored in OS keychain.")
				loadedCfg.GitHub.Token = ""
			} else {
				loadedCfg.GitHub.Token = token
			}
		} else {
			loadedCfg.GitHub.Token = token
		}
	}
	fmt.Println()

	// Step 3: Company name
	fmt.Println("Step 3/3: Company Name")
	if loadedCfg.Company != "" {
		fmt.Printf("Current: %s\n", loadedCfg.Company)
	}
	fmt.Print("Company name for reports (blank to keep current): ")
	if company := readLine(reader); company != "" {
		loadedCfg.Company = company
	}
	fmt.Println()

	if err := loadedCfg.Save(configPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Configuration saved to %s\n", configPath)
	fmt.Println("Run 'rdscope analyze <owner/repo>' to get started.")
	return nil
}

func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}
