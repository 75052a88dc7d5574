/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: plugins.go
Description: Lists the generators and parsers of the default registry.
*/

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kleascm/akaylee-infer/pkg/plugin"
)

// ListPlugins prints every registered generator and parser in evaluation order
func ListPlugins(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	config, err := GeneratorConfig()
	if err != nil {
		return err
	}
	registry := plugin.Default(config)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "🧩 Akaylee Infer - Registered Plugins")
	fmt.Fprintln(out, "=====================================")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Generators:")
	for i, g := range registry.Generators() {
		fmt.Fprintf(out, "  %d. %s\n", i+1, g.Name())
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Parsers:")
	for i, p := range registry.Parsers() {
		fmt.Fprintf(out, "  %d. %s\n", i+1, p.Name())
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "✨ Generators propose at most %d hypotheses each (max offset %d)\n",
		config.MaxCandidates, config.MaxOffset)
	return nil
}
