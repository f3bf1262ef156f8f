package services

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const responsePlaceholder = "{response}"

// Templates 按置信度分档的回答模板
type Templates struct {
	High   string `yaml:"high"`
	Medium string `yaml:"medium"`
	Low    string `yaml:"low"`
	NoInfo string `yaml:"no_info"`
}

// DefaultTemplates 默认回答模板
func DefaultTemplates() Templates {
	return Templates{
		High: `Based on the insurance policy information, I can confidently answer your question:

{response}`,
		Medium: `Based on the available information, here's what I found about your question:

{response}

Please note that you may want to verify this information with your policy documents or an insurance representative.`,
		Low: `I'm not entirely certain, but based on the limited information I have:

{response}

I recommend checking your specific policy documents or contacting customer service for confirmation.`,
		NoInfo: `I don't have enough information in the policy documents to answer this question accurately.

Please contact customer service at the number on your insurance card for specific information about this topic.`,
	}
}

// LoadTemplates 读取YAML模板覆盖默认值，path为空时返回默认模板
func LoadTemplates(path string) (Templates, error) {
	templates := DefaultTemplates()
	if path == "" {
		return templates, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Templates{}, fmt.Errorf("read templates: %w", err)
	}
	var override Templates
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Templates{}, fmt.Errorf("parse templates %s: %w", path, err)
	}

	if override.High != "" {
		templates.High = override.High
	}
	if override.Medium != "" {
		templates.Medium = override.Medium
	}
	if override.Low != "" {
		templates.Low = override.Low
	}
	if override.NoInfo != "" {
		templates.NoInfo = override.NoInfo
	}

	for name, tpl := range map[string]string{"high": templates.High, "medium": templates.Medium, "low": templates.Low} {
		if !strings.Contains(tpl, responsePlaceholder) {
			return Templates{}, fmt.Errorf("template %q must contain %s", name, responsePlaceholder)
		}
	}
	return templates, nil
}

// Tier 置信度分档：<0.3 no_info，[0.3,0.5) low，[0.5,0.7) medium，>=0.7 high
func Tier(confidence float64) string {
	switch {
	case confidence < 0.3:
		return "no_info"
	case confidence < 0.5:
		return "low"
	case confidence < 0.7:
		return "medium"
	default:
		return "high"
	}
}

// Render 用分档模板包装原始回答，no_info 档丢弃原始回答
func (t Templates) Render(confidence float64, raw string) string {
	var tpl string
	switch Tier(confidence) {
	case "no_info":
		return t.NoInfo
	case "low":
		tpl = t.Low
	case "medium":
		tpl = t.Medium
	default:
		tpl = t.High
	}
	return strings.ReplaceAll(tpl, responsePlaceholder, raw)
}
