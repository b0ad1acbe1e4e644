package validator

import (
	"testing"

	playground "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name     string  `json:"name" validate:"required,notblank"`
	Severity int     `json:"severityLevel" validate:"min=1,max=10"`
	Date     string  `json:"diagnosedDate" validate:"isodate"`
	When     *string `json:"encounterDate" validate:"omitempty,isodatetime"`
	Kind     string  `json:"conditionType" validate:"oneof=Infectious Chronic"`
}

func newValidate(t *testing.T) *playground.Validate {
	t.Helper()
	v := playground.New()
	require.NoError(t, Configure(v))
	return v
}

func strPtr(s string) *string { return &s }

func TestCustomRules(t *testing.T) {
	v := newValidate(t)

	ok := sample{Name: "Flu", Severity: 3, Date: "2024-01-01", When: strPtr("2024-01-01T09:30"), Kind: "Infectious"}
	assert.NoError(t, v.Struct(ok))

	bad := sample{Name: "  ", Severity: 11, Date: "01/01/2024", When: strPtr("yesterday"), Kind: "Flu"}
	err := v.Struct(bad)
	require.Error(t, err)

	fields := map[string]string{}
	for _, fe := range Describe(err) {
		fields[fe.Field] = fe.Message
	}
	assert.Equal(t, "must not be blank", fields["name"])
	assert.Equal(t, "is above the maximum of 10", fields["severityLevel"])
	assert.Equal(t, "must be a date in YYYY-MM-DD form", fields["diagnosedDate"])
	assert.Contains(t, fields, "encounterDate")
	assert.Equal(t, "must be one of: Infectious Chronic", fields["conditionType"])
}

func TestDescribeIgnoresOtherErrors(t *testing.T) {
	assert.Nil(t, Describe(assert.AnError))
}

func TestParseDateTimeLayouts(t *testing.T) {
	for _, s := range []string{"2024-03-05T10:15", "2024-03-05T10:15:30", "2024-03-05T10:15:30Z"} {
		_, err := ParseDateTime(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseDateTime("2024-03-05")
	assert.Error(t, err)
}
