package schema

import (
	"fmt"
	"strings"
)

const instructionsHeader = `Always return a JSON object using the following format.
Below is the schema describing the fields.

Schema:
`

const instructionsRules = `
### INSTRUCTIONS
- Use the ` + "`name`" + ` of each field as the key in the JSON output.
- Generate each value according to its description and type.
- Only include the keys: do not include the description, type or required markers in the output.
- Every required field must be present.
- If an optional field has no value, set its key to null. Never leave a key out.
- Your entire response must be a single valid JSON object, with no additional text, explanation, or Markdown formatting.

### OUTPUT FORMAT (example)
`

// RenderInstructions produces the instruction block appended to a system
// prompt so that the model answers with an object matching d.
func RenderInstructions(d *Descriptor) string {
	var sb strings.Builder
	sb.WriteString(instructionsHeader)
	writeFields(&sb, d, 0)
	sb.WriteString(instructionsRules)
	writeExample(&sb, d)
	return sb.String()
}

func writeFields(sb *strings.Builder, d *Descriptor, depth int) {
	indent := strings.Repeat("    ", depth)
	for _, f := range d.fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		fmt.Fprintf(sb, "%s- name: %s\n", indent, f.Name)
		fmt.Fprintf(sb, "%s  type: %s (%s)\n", indent, describeType(f), req)
		if f.Description != "" {
			fmt.Fprintf(sb, "%s  description: %s\n", indent, f.Description)
		}
		if f.Fields != nil {
			fmt.Fprintf(sb, "%s  fields:\n", indent)
			writeFields(sb, f.Fields, depth+1)
		}
	}
}

func describeType(f Field) string {
	switch f.Type {
	case LiteralSet:
		quoted := make([]string, len(f.Values))
		for i, v := range f.Values {
			quoted[i] = fmt.Sprintf("%q", v)
		}
		return "one of " + strings.Join(quoted, ", ")
	case List:
		if f.Items != "" {
			return "list of " + string(f.Items)
		}
	}
	return string(f.Type)
}

func writeExample(sb *strings.Builder, d *Descriptor) {
	sb.WriteString("{\n")
	for i, f := range d.fields {
		sep := ","
		if i == len(d.fields)-1 {
			sep = ""
		}
		fmt.Fprintf(sb, "  %q: <%s>%s\n", f.Name, describeType(f), sep)
	}
	sb.WriteString("}\n")
}
