package internal

import (
	"fmt"
	"os"
	"strings"
)

// systemPrompt frames every recommender call. Kept short: the model only
// needs to know its role, the response contract lives in the user prompt.
const systemPrompt = "You are an infrastructure capacity planner. " +
	"You analyze compute metrics for a virtual machine scale set and recommend an instance count. " +
	"You respond with JSON only, never prose."

// PromptBuilder renders the metric digests and topology into the request
// sent to the recommender. With no template path configured it uses the
// built-in template; a configured but unreadable template also falls back to
// the built-in one, with a warning returned to the caller instead of an
// error, since a degraded prompt is still a usable prompt.
type PromptBuilder struct {
	Templates    TemplateSource
	TemplatePath string
}

// osTemplateSource reads templates from the local filesystem.
type osTemplateSource struct{}

func (osTemplateSource) Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// NewPromptBuilder returns a builder reading custom templates from disk.
func NewPromptBuilder(templatePath string) *PromptBuilder {
	return &PromptBuilder{Templates: osTemplateSource{}, TemplatePath: templatePath}
}

// Build renders the prompt. The returned warning is non-empty when a custom
// template was configured but could not be read.
func (b *PromptBuilder) Build(topology *Topology, digests map[Dimension]MetricDigest) (prompt string, warning string) {
	metricsData := formatDigests(digests)

	if b.TemplatePath == "" {
		return builtinPrompt(topology, metricsData), ""
	}

	template, err := b.Templates.Read(b.TemplatePath)
	if err != nil {
		return builtinPrompt(topology, metricsData), fmt.Sprintf("could not read prompt template %s, using built-in template: %v", b.TemplatePath, err)
	}

	return substitute(template, topology, metricsData), ""
}

// substitute performs literal placeholder substitution on a user template.
// Placeholders the template does not use are simply skipped, and placeholders
// we do not know are left as-is rather than rejected, so that template
// authors get visibly wrong output instead of a hard failure.
func substitute(template string, topology *Topology, metricsData string) string {
	replacer := strings.NewReplacer(
		"{{identity}}", topology.Identity,
		"{{current_capacity}}", fmt.Sprintf("%d", topology.CurrentCapacity),
		"{{min_instances}}", fmt.Sprintf("%d", topology.MinInstances),
		"{{max_instances}}", fmt.Sprintf("%d", topology.MaxInstances),
		"{{vm_size}}", topology.VMSize,
		"{{metrics_data}}", metricsData,
	)

	return replacer.Replace(template)
}

func builtinPrompt(topology *Topology, metricsData string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Scale set under management: %s\n", topology.Identity)
	if topology.VMSize != "" {
		fmt.Fprintf(&sb, "Instance size: %s\n", topology.VMSize)
	}
	fmt.Fprintf(&sb, "Current capacity: %d instances\n", topology.CurrentCapacity)
	fmt.Fprintf(&sb, "Allowed range: %d to %d instances\n\n", topology.MinInstances, topology.MaxInstances)

	sb.WriteString("Recent metrics:\n")
	sb.WriteString(metricsData)

	// The parser depends on the model at least attempting this shape, so the
	// instruction is spelled out key by key.
	sb.WriteString("\nBased on these metrics, how many instances should the scale set run?\n")
	sb.WriteString("Respond with a single JSON object with exactly three keys:\n")
	sb.WriteString(`  "recommended_instances" (integer), "confidence" (float between 0 and 1), "reasoning" (string)` + "\n")
	sb.WriteString("Do not include any text outside the JSON object.\n")

	return sb.String()
}

// formatDigests renders one line per dimension, in the fixed Dimensions
// order. Dimensions with no data are reported as such rather than omitted,
// so the model knows the difference between "no load" and "no signal".
func formatDigests(digests map[Dimension]MetricDigest) string {
	var sb strings.Builder

	for _, dimension := range Dimensions {
		digest, ok := digests[dimension]
		if !ok || digest.Current == nil {
			fmt.Fprintf(&sb, "  %s: no data\n", dimension)
			continue
		}

		fmt.Fprintf(&sb, "  %s: current %.2f, average %.2f, trend %s\n",
			dimension, *digest.Current, *digest.Average, digest.Trend)
	}

	return sb.String()
}
