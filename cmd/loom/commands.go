package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/narratex/loom/internal/config"
)

// --- create ---

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new content generation project",
	Long: `Create a new content generation project.

Examples:
  loom create --name "Ashfall" --type novel --topic "a city built on a dormant volcano" --genre "dark fantasy"
  loom create --name "Go Fundamentals" --type course --topic "practical Go for backend engineers" --audience "junior developers"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		contentType, _ := cmd.Flags().GetString("type")
		topic, _ := cmd.Flags().GetString("topic")
		audience, _ := cmd.Flags().GetString("audience")
		genre, _ := cmd.Flags().GetString("genre")

		if name == "" || contentType == "" || topic == "" {
			return fmt.Errorf("--name, --type, and --topic are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/create-project", map[string]any{
			"project_name":    name,
			"content_type":    contentType,
			"topic":           topic,
			"target_audience": audience,
			"genre":           genre,
		})
		if err != nil {
			return err
		}

		var result struct {
			Project struct {
				ID string `json:"id"`
			} `json:"project"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Created project %s", result.Project.ID)
		printStep("Run: loom stage %s 1", result.Project.ID)
		return nil
	},
}

func init() {
	createCmd.Flags().String("name", "", "project name")
	createCmd.Flags().String("type", "", "content type (novel, course, documentary)")
	createCmd.Flags().String("topic", "", "topic or premise")
	createCmd.Flags().String("audience", "", "target audience")
	createCmd.Flags().String("genre", "", "genre or subject area")
}

// --- stage ---

var stageCmd = &cobra.Command{
	Use:   "stage <project-id> <stage-number>",
	Short: "Execute one generation stage (1-4)",
	Long: `Execute one generation stage. Stages run in order:
  1  big_picture       premise, themes, style guide
  2  objects_relations entities, relationships, timeline
  3  structure         hierarchical unit tree
  4  granular_units    scene/activity/segment plans`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]
		stageNumber, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("stage number must be an integer: %w", err)
		}

		model, _ := cmd.Flags().GetString("model")
		providerTag, _ := cmd.Flags().GetString("provider")
		contextMode, _ := cmd.Flags().GetString("context-mode")
		skipValidation, _ := cmd.Flags().GetBool("skip-validation")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Executing stage %d...", stageNumber)
		resp, err := client.post(cmd.Context(), "/execute-stage", map[string]any{
			"project_id":   projectID,
			"stage_number": stageNumber,
			"ai_config": map[string]any{
				"provider":        providerTag,
				"model":           model,
				"context_mode":    contextMode,
				"skip_validation": skipValidation,
			},
		})
		if err != nil {
			return err
		}

		var result struct {
			Stage struct {
				StageName  string `json:"stage_name"`
				NextStage  int    `json:"next_stage"`
				Validation struct {
					Score         int    `json:"score"`
					MentorInsight string `json:"mentor_insight"`
				} `json:"validation"`
			} `json:"stage"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stage %d (%s) completed, score %d", stageNumber, result.Stage.StageName, result.Stage.Validation.Score)
		if result.Stage.Validation.MentorInsight != "" {
			printStatus("Insight", "%s", result.Stage.Validation.MentorInsight)
		}
		if result.Stage.NextStage > 0 {
			printStep("Run: loom stage %s %d", projectID, result.Stage.NextStage)
		} else {
			printSuccess("Project complete")
		}
		return nil
	},
}

func init() {
	stageCmd.Flags().String("model", "", "override the configured model")
	stageCmd.Flags().String("provider", "", "override the configured provider (openrouter, ollama)")
	stageCmd.Flags().String("context-mode", "", "context strategy (full, compact)")
	stageCmd.Flags().Bool("skip-validation", false, "skip mentor validation for this stage")
}

// --- project ---

var projectCmd = &cobra.Command{
	Use:   "project <project-id>",
	Short: "Show a project's stages and statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/project-status/"+args[0])
		if err != nil {
			return err
		}

		var status any
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}
		return printJSON(status)
	},
}

// --- projects ---

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		contentType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/list-projects?limit=%d", limit)
		if status != "" {
			path += "&status=" + status
		}
		if contentType != "" {
			path += "&content_type=" + contentType
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Projects []struct {
				ID           string `json:"id"`
				Name         string `json:"name"`
				ContentType  string `json:"content_type"`
				Status       string `json:"status"`
				CurrentStage int    `json:"current_stage"`
			} `json:"projects"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Projects) == 0 {
			fmt.Println("No projects found.")
			return nil
		}

		for _, p := range result.Projects {
			fmt.Printf("%s  %-12s %-12s stage %d/4  %s\n",
				colorize(colorCyan, p.ID[:8]),
				p.ContentType,
				p.Status,
				p.CurrentStage,
				p.Name,
			)
		}
		return nil
	},
}

func init() {
	projectsCmd.Flags().String("status", "", "filter by status")
	projectsCmd.Flags().String("type", "", "filter by content type")
	projectsCmd.Flags().Int("limit", 20, "maximum number of projects to list")
}

// --- reference ---

var referenceCmd = &cobra.Command{
	Use:   "reference <project-id>",
	Short: "Attach reference material to a project",
	Long: `Attach reference material (text, file, or URL) to a project. Extracted
text is folded into the first generation stage's prompt.

Examples:
  loom reference <id> --text "The city has seven concentric walls"
  loom reference <id> --file ./worldbuilding.pdf
  loom reference <id> --url https://example.com/background`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		url, _ := cmd.Flags().GetString("url")
		title, _ := cmd.Flags().GetString("title")

		if text == "" && file == "" && url == "" {
			return fmt.Errorf("one of --text, --file, or --url is required")
		}

		req := map[string]any{"project_id": projectID}
		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case url != "":
			req["type"] = "url"
			req["url"] = url
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["type"] = "file"
			req["content"] = base64.StdEncoding.EncodeToString(data)
			if title == "" {
				title = filepath.Base(file)
			}
		}
		if title != "" {
			req["title"] = title
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/reference", req)
		if err != nil {
			return err
		}

		var result struct {
			ReferenceID string `json:"reference_id"`
			Chars       int    `json:"chars"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Attached reference %s (%d chars extracted)", result.ReferenceID, result.Chars)
		return nil
	},
}

func init() {
	referenceCmd.Flags().String("text", "", "text content to attach")
	referenceCmd.Flags().String("file", "", "file path to attach (pdf, html, or text)")
	referenceCmd.Flags().String("url", "", "URL to fetch and attach")
	referenceCmd.Flags().String("title", "", "title for the reference")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List valid configuration keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range config.ValidKeys() {
			fmt.Println(" ", k)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
}
