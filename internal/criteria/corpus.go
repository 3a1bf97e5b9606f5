// Package criteria holds the HMRC R&D rubric corpus and answers
// nearest-neighbor queries against it.
package criteria

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rdscope/rdscope-go/internal/models"
)

// DefaultCorpus returns the built-in HMRC Corporation Tax R&D relief
// passages, distilled from the official guidance at
// https://www.gov.uk/guidance/corporation-tax-research-and-development-rd-relief
func DefaultCorpus() []models.CriteriaPassage {
	return []models.CriteriaPassage{
		{
			ID:       "advance_1",
			Category: models.CategoryAdvance,
			Section:  "Advance in science or technology",
			Text: "An advance in overall knowledge or capability in a field of " +
				"science or technology, not just your company's own state of " +
				"knowledge. This includes an appreciable improvement to existing " +
				"knowledge or capability.",
		},
		{
			ID:       "advance_2",
			Category: models.CategoryAdvance,
			Section:  "Advance in science or technology",
			Text: "The advance must be in the field of science or technology, not " +
				"just commercial use of existing technologies. Routine analysis, " +
				"copying, or adaptation of existing knowledge does not qualify.",
		},
		{
			ID:       "advance_3",
			Category: models.CategoryAdvance,
			Section:  "Software development R&D",
			Text: "Software development qualifies when it seeks an advance in the " +
				"field of software engineering, not just implementing known " +
				"techniques. Qualifying work includes developing new algorithms, " +
				"creating novel architectures, solving complex performance or " +
				"scalability challenges, and advancing AI or ML capabilities.",
		},
		{
			ID:       "advance_4",
			Category: models.CategoryAdvance,
			Section:  "Software development exclusions",
			Text: "Software activities that typically do not qualify: using " +
				"established development methods, implementing standard business " +
				"logic, routine debugging, website design using standard tools, " +
				"and integrating existing software packages without significant " +
				"customization requiring new technological solutions.",
		},
		{
			ID:       "uncertainty_1",
			Category: models.CategoryUncertainty,
			Section:  "Scientific or technological uncertainty",
			Text: "The knowledge being sought is not readily available or " +
				"deducible by a competent professional working in the field. The " +
				"uncertainty must exist at the start of the project.",
		},
		{
			ID:       "uncertainty_2",
			Category: models.CategoryUncertainty,
			Section:  "Scientific or technological uncertainty",
			Text: "Examples of technological uncertainty include: whether " +
				"something is scientifically possible or technologically feasible, " +
				"how to achieve a technological advance, which of various " +
				"technological approaches will work or work better, and whether a " +
				"particular design will be efficient or effective.",
		},
		{
			ID:       "systematic_1",
			Category: models.CategorySystematic,
			Section:  "Systematic investigation",
			Text: "Work must be directly related to resolving the scientific or " +
				"technological uncertainty and must follow a systematic approach, " +
				"not just trial and error. This includes hypothesis testing, " +
				"experimentation, analysis, and iteration. Failed experiments are " +
				"important evidence of genuine R&D.",
		},
		{
			ID:       "systematic_2",
			Category: models.CategorySystematic,
			Section:  "Systematic investigation",
			Text: "Qualifying activities include designing, building, and testing " +
				"prototypes; developing new or improved materials, products, " +
				"devices, processes or services; research to resolve technological " +
				"uncertainties; and feasibility studies informing R&D decisions.",
		},
	}
}

// corpusFile is the YAML shape of an override corpus on disk.
type corpusFile struct {
	Passages []models.CriteriaPassage `yaml:"passages"`
}

// LoadCorpus reads a corpus override from a YAML file. An empty path returns
// the built-in corpus.
func LoadCorpus(path string) ([]models.CriteriaPassage, error) {
	if path == "" {
		return DefaultCorpus(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus file: %w", err)
	}

	var file corpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse corpus file: %w", err)
	}
	if len(file.Passages) == 0 {
		return nil, fmt.Errorf("corpus file %s contains no passages", path)
	}

	for i, p := range file.Passages {
		if p.ID == "" || p.Text == "" {
			return nil, fmt.Errorf("corpus passage %d missing id or text", i)
		}
		switch p.Category {
		case models.CategoryAdvance, models.CategoryUncertainty, models.CategorySystematic:
		default:
			return nil, fmt.Errorf("corpus passage %s has unknown category %q", p.ID, p.Category)
		}
	}

	return file.Passages, nil
}
