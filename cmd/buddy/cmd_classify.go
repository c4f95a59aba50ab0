package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/buddy/internal/classify"
	"github.com/ent0n29/buddy/internal/router"
)

var rulesPath string

var classifyCmd = &cobra.Command{
	Use:   "classify [text...]",
	Short: "Classify a line of child input",
	Long:  `Prints the scenario label, confidence and matched phrase as JSON.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

var routeCmd = &cobra.Command{
	Use:   "route <trigger>",
	Short: "Show which branch a trigger is routed to",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoute,
}

func init() {
	classifyCmd.Flags().StringVar(&rulesPath, "rules", "", "classifier rules YAML (defaults to the embedded rules)")
}

func runClassify(cmd *cobra.Command, args []string) error {
	rules, err := classify.LoadRules(rulesPath)
	if err != nil {
		return err
	}
	result := classify.New(rules).Classify(strings.Join(args, " "))
	return printJSON(cmd, result)
}

func runRoute(cmd *cobra.Command, args []string) error {
	trigger := router.ParseTrigger(args[0])
	return printJSON(cmd, map[string]string{
		"trigger": string(trigger),
		"branch":  string(router.Route(trigger, false)),
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
