package ofx

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/budget-autocat/internal/model"
)

const ofxHeader = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20250301120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
`

// stmtTrn renders one SGML transaction record.
func stmtTrn(fitID, posted, amount, name, memo string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<STMTTRN>\n<TRNTYPE>DEBIT\n<DTPOSTED>%s120000[0:GMT]\n<TRNAMT>%s\n", posted, amount)
	if fitID != "" {
		fmt.Fprintf(&sb, "<FITID>%s\n", fitID)
	}
	fmt.Fprintf(&sb, "<NAME>%s\n", name)
	if memo != "" {
		fmt.Fprintf(&sb, "<MEMO>%s\n", memo)
	}
	sb.WriteString("</STMTTRN>\n")
	return sb.String()
}

func bankStatement(records ...string) string {
	return ofxHeader + `<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>021000021
<ACCTID>555000111
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20250201120000[0:GMT]
<DTEND>20250228120000[0:GMT]
` + strings.Join(records, "") + `</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>2500.00
<DTASOF>20250228120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`
}

func cardStatement(records ...string) string {
	return ofxHeader + `<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>USD
<CCACCTFROM>
<ACCTID>4000123412341234
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20250201120000[0:GMT]
<DTEND>20250228120000[0:GMT]
` + strings.Join(records, "") + `</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-310.25
<DTASOF>20250228120000[0:GMT]
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`
}

func TestParseFile_BankStatement(t *testing.T) {
	data := bankStatement(
		stmtTrn("F-001", "20250203", "-6.40", "POS PURCHASE BLUE BOTTLE COFFEE", ""),
		stmtTrn("F-002", "20250207", "-84.12", "TRADER JOE'S #552", ""),
		stmtTrn("F-003", "20250215", "1800.00", "PAYROLL ACME CORP", ""),
	)

	txns, err := NewParser(nil).ParseFile(context.Background(), strings.NewReader(data), "owner-1")
	require.NoError(t, err)
	require.Len(t, txns, 3)

	first := txns[0]
	assert.Equal(t, "BLUE BOTTLE COFFEE", first.Description)
	assert.InDelta(t, -6.40, first.Amount, 1e-9)
	assert.Equal(t, "owner-1", first.OwnerID)
	assert.Equal(t, model.CategorizationPending, first.CategorizationStatus)
	assert.Nil(t, first.CategoryID)
	assert.Equal(t, time.Date(2025, 2, 3, 12, 0, 0, 0, time.UTC), first.Date.UTC())

	assert.InDelta(t, 1800.00, txns[2].Amount, 1e-9, "credits keep their sign")
}

func TestParseFile_CreditCardStatement(t *testing.T) {
	data := cardStatement(
		stmtTrn("C-1", "20250210", "-15.49", "SPOTIFY USA", ""),
		stmtTrn("C-2", "20250212", "-42.00", "PURCHASE", "SHELL OIL 5744"),
	)

	txns, err := NewParser(nil).ParseFile(context.Background(), strings.NewReader(data), "owner-1")
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "SPOTIFY USA", txns[0].Description)
	assert.Equal(t, "SHELL OIL 5744", txns[1].Description, "generic names fall back to the memo")
}

func TestParseFile_StableIDs(t *testing.T) {
	data := bankStatement(
		stmtTrn("F-001", "20250203", "-6.40", "BLUE BOTTLE", ""),
		stmtTrn("", "20250204", "-3.00", "PARKING METER", ""),
		strings.Replace(stmtTrn("F-003", "20250205", "-9.99", "NETFLIX", ""), "<FITID>F-003", "<FITID>", 1),
	)
	parser := NewParser(nil)

	first, err := parser.ParseFile(context.Background(), strings.NewReader(data), "owner-1")
	require.NoError(t, err)
	second, err := parser.ParseFile(context.Background(), strings.NewReader(data), "owner-1")
	require.NoError(t, err)
	other, err := parser.ParseFile(context.Background(), strings.NewReader(data), "owner-2")
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID, "same FITID maps to the same ID")
	assert.NotEqual(t, first[0].ID, other[0].ID, "IDs are scoped by owner")
	require.Len(t, first, 3, "records without FITID do not block the file")
	assert.NotEqual(t, first[1].ID, second[1].ID, "rows without FITID get random IDs")
	assert.NotEqual(t, first[2].ID, second[2].ID, "rows with an empty FITID get random IDs")
	assert.NotEqual(t, first[1].ID, first[2].ID)
	assert.Equal(t, "NETFLIX", first[2].Description)
}

func TestFillMissingFitIDs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
		omit  []string
	}{
		{
			name:  "present FITID untouched",
			input: "<STMTTRN>\n<FITID>ABC\n<NAME>X\n</STMTTRN>",
			want:  []string{"<FITID>ABC\n"},
			omit:  []string{placeholderFitID},
		},
		{
			name:  "missing SGML FITID",
			input: "<STMTTRN>\n<TRNAMT>-1\n</STMTTRN><STMTTRN>\n<TRNAMT>-2\n</STMTTRN>",
			want:  []string{"<STMTTRN>\n<FITID>" + placeholderFitID + "1\n", "<FITID>" + placeholderFitID + "2\n"},
		},
		{
			name:  "empty SGML FITID replaced",
			input: "<STMTTRN>\n<FITID>\n<TRNAMT>-1\n</STMTTRN>",
			want:  []string{"<FITID>" + placeholderFitID + "1"},
			omit:  []string{"<FITID>\n"},
		},
		{
			name:  "empty XML FITID replaced",
			input: "<STMTTRN><TRNAMT>-1</TRNAMT><FITID></FITID></STMTTRN>",
			want:  []string{"<STMTTRN><FITID>" + placeholderFitID + "1</FITID><TRNAMT>"},
			omit:  []string{"<FITID></FITID>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fillMissingFitIDs(tt.input)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
			for _, o := range tt.omit {
				assert.NotContains(t, got, o)
			}
		})
	}
}

func TestParseFile_Errors(t *testing.T) {
	parser := NewParser(nil)

	_, err := parser.ParseFile(context.Background(), strings.NewReader("not an ofx file"), "owner-1")
	assert.Error(t, err)

	_, err = parser.ParseFile(context.Background(), strings.NewReader(bankStatement()), " ")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = parser.ParseFile(ctx, strings.NewReader(bankStatement(stmtTrn("F", "20250203", "-1", "X", ""))), "owner-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPreprocess(t *testing.T) {
	input := "\n\n<OFX>\n<SEVERITY>Info</SEVERITY>\n<CODE\n</OFX>"
	got := preprocess(input)

	assert.True(t, strings.HasPrefix(got, "<OFX>"))
	assert.Contains(t, got, "<SEVERITY>INFO</SEVERITY>")
	assert.Contains(t, got, "<CODE>\n")
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		tx   ofxgo.Transaction
		name string
		want string
	}{
		{
			name: "payee wins",
			tx:   ofxgo.Transaction{Name: "ACH DEBIT 1234", Payee: &ofxgo.Payee{Name: "City Water Dept"}},
			want: "City Water Dept",
		},
		{
			name: "card prefix stripped",
			tx:   ofxgo.Transaction{Name: "CHECK CARD LYFT RIDE"},
			want: "LYFT RIDE",
		},
		{
			name: "posting date stripped",
			tx:   ofxgo.Transaction{Name: "PURCHASE AUTHORIZED ON 02/14 CVS PHARMACY"},
			want: "CVS PHARMACY",
		},
		{
			name: "generic name uses memo",
			tx:   ofxgo.Transaction{Name: "DEBIT", Memo: "COMCAST CABLE"},
			want: "COMCAST CABLE",
		},
		{
			name: "plain name kept",
			tx:   ofxgo.Transaction{Name: "  Local Bakery  "},
			want: "Local Bakery",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describe(tt.tx))
		})
	}
}
