package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/tab-tracker/internal/classifier"
	"github.com/Tiliavir/tab-tracker/internal/model"
)

var (
	classifyTitle string
	classifyRules bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify [url]",
	Short: "Show how a URL is classified, including custom rules",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&classifyTitle, "title", "", "Page title, for title-based metadata")
	classifyCmd.Flags().BoolVar(&classifyRules, "rules", false, "List the effective rules in match order")
}

func runClassify(cmd *cobra.Command, args []string) error {
	_, cfg := mustConfig()

	var custom []classifier.Rule
	if cfg.RulesFile != "" {
		rules, err := classifier.LoadRules(cfg.RulesFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		custom = rules
	}
	c := classifier.New(custom...)

	switch {
	case classifyRules:
		fmt.Print(formatRules(c.Rules()))
	case len(args) == 1:
		fmt.Print(describeURL(c, args[0], classifyTitle))
	default:
		fmt.Fprintln(os.Stderr, "a URL or --rules is required")
		os.Exit(1)
	}
	return nil
}

func formatRules(rules []classifier.Rule) string {
	var b strings.Builder
	for _, r := range rules {
		fmt.Fprintf(&b, "%-20s %-15s %.2f  %s\n", r.Name, r.Category, r.Productivity, r.Pattern)
	}
	return b.String()
}

func describeURL(c *classifier.Classifier, rawURL, title string) string {
	var b strings.Builder
	if !classifier.Trackable(rawURL) {
		b.WriteString("Not tracked (not an http(s) page).\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Domain:       %s\n", classifier.Domain(rawURL))

	p := c.Classify(rawURL)
	if p == nil {
		b.WriteString("Platform:     none\n")
		fmt.Fprintf(&b, "Category:     %s\n", model.DefaultCategory)
		return b.String()
	}
	fmt.Fprintf(&b, "Platform:     %s\n", p.Name)
	fmt.Fprintf(&b, "Category:     %s\n", p.Category)
	fmt.Fprintf(&b, "Productivity: %.2f (can be productive: %t)\n", p.DefaultProductivity, p.CanBeProductive)

	meta := classifier.Metadata(p.Name, rawURL, title)
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, _ := json.Marshal(meta[k])
		fmt.Fprintf(&b, "  %s: %s\n", k, v)
	}
	return b.String()
}
