package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Violet-Asuka/openai-api-tester/internal/openai"
	"github.com/Violet-Asuka/openai-api-tester/internal/probe"
)

func main() {
	baseURL := flag.String("base-url", envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"), "OpenAI-compatible base URL")
	apiKey := flag.String("api-key", envOr("OPENAI_API_KEY", ""), "API key for endpoint")
	model := flag.String("model", envOr("OPENAI_MODEL", ""), "Model ID to test")
	timeout := flag.Duration("timeout", 90*time.Second, "HTTP timeout")
	tests := flag.String("tests", "all", "Comma-separated tests: connection,chat,stream,function,image,latency,temperature,math,reasoning,all")
	prompt := flag.String("prompt", "", "Custom prompt for the chat and stream tests")
	latencyIterations := flag.Int("latency-iterations", 30, "Concurrent request count for the latency test")
	temperatureIterations := flag.Int("temperature-iterations", 10, "Sample count for the temperature consistency test")
	temperature := flag.Float64("temperature", 0.01, "Fixed temperature for the consistency test")
	gradeMath := flag.Bool("grade-math", false, "Re-run math tool arguments locally and grade the answers")
	reasoningQuestion := flag.String("reasoning-question", "", "Question ID from the reasoning bank")
	questionBank := flag.String("question-bank", "", "Path to a custom reasoning question bank JSON")
	imagePath := flag.String("image", "", "Path to an image file for the vision test (png/jpeg/gif)")
	listModels := flag.Bool("list-models", false, "List the endpoint's models and exit")
	format := flag.String("format", "text", "Output format: text|json")
	outputPath := flag.String("out", "", "Write full report JSON to this file")
	strict := flag.Bool("strict", false, "Exit non-zero if any test is warn/fail/aborted")
	flag.Parse()

	if strings.TrimSpace(*apiKey) == "" {
		exitWith("OPENAI_API_KEY or -api-key is required")
	}

	client := openai.NewClient(openai.Config{
		BaseURL: *baseURL,
		APIKey:  *apiKey,
		Timeout: *timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout*8)
	defer cancel()

	if *listModels {
		models, _, err := client.ListModels(ctx)
		if err != nil {
			exitWith("failed to list models: " + err.Error())
		}
		printModels(models, *format)
		return
	}

	if strings.TrimSpace(*model) == "" {
		exitWith("OPENAI_MODEL or -model is required")
	}

	runConfig := probe.RunConfig{
		Model:                 *model,
		Prompt:                *prompt,
		LatencyIterations:     *latencyIterations,
		TemperatureIterations: *temperatureIterations,
		FixedTemperature:      *temperature,
		GradeMath:             *gradeMath,
		ReasoningQuestionID:   *reasoningQuestion,
	}

	if strings.TrimSpace(*questionBank) != "" {
		questions, err := probe.LoadReasoningQuestions(*questionBank)
		if err != nil {
			exitWith("failed to load question bank: " + err.Error())
		}
		runConfig.Questions = questions
	}

	if strings.TrimSpace(*imagePath) != "" {
		image, err := readImage(*imagePath)
		if err != nil {
			exitWith("failed to read image: " + err.Error())
		}
		runConfig.Image = image
	}

	selected := probe.ResolveSelection(*tests)
	report, runErr := probe.Run(ctx, client, *baseURL, runConfig, selected)

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "json":
		printJSON(report)
	default:
		printText(report)
	}

	if strings.TrimSpace(*outputPath) != "" {
		if err := writeReport(*outputPath, report); err != nil {
			exitWith("failed to write report: " + err.Error())
		}
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, "run interrupted:", runErr)
	}
	if *strict && (report.Warned > 0 || report.Failed > 0 || report.Aborted > 0) {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

var imageMIMEByExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
}

func readImage(path string) (probe.ImageInput, error) {
	cleanPath := filepath.Clean(path)
	mime, ok := imageMIMEByExt[strings.ToLower(filepath.Ext(cleanPath))]
	if !ok {
		return probe.ImageInput{}, fmt.Errorf("unsupported image extension: %s", filepath.Ext(cleanPath))
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return probe.ImageInput{}, err
	}
	return probe.ImageInput{Data: data, MIME: mime}, nil
}

func printText(report probe.Report) {
	fmt.Printf("Endpoint: %s\n", report.Endpoint)
	fmt.Printf("Model: %s\n", report.Model)
	fmt.Printf("Generated: %s\n\n", report.GeneratedAt)

	for _, result := range report.Results {
		fmt.Printf("[%s] %s (%dms)\n", strings.ToUpper(string(result.Status)), result.Type, result.DurationMS)
		if result.Error != "" {
			fmt.Printf("  error: %s\n", result.Error)
		}
		if result.Response != nil {
			if result.Response.Content != "" {
				fmt.Printf("  %s\n", result.Response.Content)
			}
			if len(result.Response.Metrics) > 0 {
				metricsJSON, _ := json.Marshal(result.Response.Metrics)
				fmt.Printf("  metrics: %s\n", metricsJSON)
			}
		}
		fmt.Println()
	}

	fmt.Printf("Totals: pass=%d warn=%d fail=%d aborted=%d\n", report.Passed, report.Warned, report.Failed, report.Aborted)
}

func printJSON(report probe.Report) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		exitWith("failed to encode report JSON: " + err.Error())
	}
	fmt.Println(string(data))
}

func printModels(models *openai.ModelsResponse, format string) {
	if strings.ToLower(strings.TrimSpace(format)) == "json" {
		data, err := json.MarshalIndent(models, "", "  ")
		if err != nil {
			exitWith("failed to encode models JSON: " + err.Error())
		}
		fmt.Println(string(data))
		return
	}
	for _, m := range models.Data {
		fmt.Println(m.ID)
	}
}

func writeReport(path string, report probe.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	cleanPath := filepath.Clean(path)
	return os.WriteFile(cleanPath, data, 0o644)
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, "error:", message)
	os.Exit(2)
}
