// Package ofx turns OFX/QFX bank and credit card statements into pending
// transactions ready for categorization.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/google/uuid"

	"github.com/Veraticus/budget-autocat/internal/model"
)

var (
	severityPattern = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	openTagPattern  = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	stmtTrnPattern  = regexp.MustCompile(`(?s)<STMTTRN>.*?</STMTTRN>`)
	fitIDPattern    = regexp.MustCompile(`<FITID>([^<\r\n]*)`)
	emptyFitID      = regexp.MustCompile(`<FITID>[ \t]*(</FITID>)?`)
)

// placeholderFitID marks records that arrived without a FITID. ofxgo rejects
// the whole file on an empty FITID, so one is filled in before parsing.
const placeholderFitID = "AUTOCAT-NOFITID-"

// cardPrefixes are processor boilerplate stripped from the front of descriptions.
var cardPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

var genericNames = map[string]bool{
	"DEBIT":           true,
	"CREDIT":          true,
	"PURCHASE":        true,
	"PAYMENT":         true,
	"POS TRANSACTION": true,
	"CARD PURCHASE":   true,
}

// Parser reads OFX/QFX statements.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser. A nil logger uses slog.Default().
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// ParseFile reads every bank and credit card statement in reader and returns
// their transactions as pending, owned by ownerID. IDs are derived from the
// account and FITID so re-importing a file yields the same IDs.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader, ownerID string) ([]model.Transaction, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("owner ID is required")
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var transactions []model.Transaction
	var statements int

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		statements++
		account := string(stmt.BankAcctFrom.AcctID)
		for _, ofxTx := range stmt.BankTranList.Transactions {
			transactions = append(transactions, convert(ofxTx, ownerID, account))
		}
	}

	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		statements++
		account := string(stmt.CCAcctFrom.AcctID)
		for _, ofxTx := range stmt.BankTranList.Transactions {
			transactions = append(transactions, convert(ofxTx, ownerID, account))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.Info("Parsed OFX file",
		"transactions", len(transactions),
		"statements", statements)

	return transactions, nil
}

// preprocess fixes formatting quirks that ofxgo rejects: leading blank lines,
// mixed-case SEVERITY values, and SGML tags missing their closing bracket.
func preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityPattern.ReplaceAllStringFunc(content, strings.ToUpper)
	content = openTagPattern.ReplaceAllString(content, "$1>")
	return fillMissingFitIDs(content)
}

// fillMissingFitIDs gives every STMTTRN record without a usable FITID a
// numbered placeholder, matching the record's SGML or XML closing style.
func fillMissingFitIDs(content string) string {
	n := 0
	return stmtTrnPattern.ReplaceAllStringFunc(content, func(record string) string {
		for _, m := range fitIDPattern.FindAllStringSubmatch(record, -1) {
			if strings.TrimSpace(m[1]) != "" {
				return record
			}
		}

		n++
		fitID := fmt.Sprintf("\n<FITID>%s%d", placeholderFitID, n)
		if strings.Contains(record, "</TRNAMT>") {
			fitID = fmt.Sprintf("<FITID>%s%d</FITID>", placeholderFitID, n)
		}

		record = emptyFitID.ReplaceAllString(record, "")
		return strings.Replace(record, "<STMTTRN>", "<STMTTRN>"+fitID, 1)
	})
}

func convert(ofxTx ofxgo.Transaction, ownerID, account string) model.Transaction {
	amount, _ := ofxTx.TrnAmt.Float64()

	id := uuid.NewString()
	if fitID := strings.TrimSpace(string(ofxTx.FiTID)); fitID != "" && !strings.HasPrefix(fitID, placeholderFitID) {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(ownerID+"/"+account+"/"+fitID)).String()
	}

	return model.Transaction{
		ID:                   id,
		OwnerID:              ownerID,
		Description:          describe(ofxTx),
		Amount:               amount,
		Date:                 ofxTx.DtPosted.Time,
		CategorizationStatus: model.CategorizationPending,
	}
}

// describe picks the most merchant-like text from the transaction.
func describe(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := strings.TrimSpace(string(tx.Name))
	if tx.Memo != "" && genericNames[strings.ToUpper(name)] {
		name = strings.TrimSpace(string(tx.Memo))
	}

	upper := strings.ToUpper(name)
	for _, prefix := range cardPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// Leading "MM/DD " posting date.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}

	return name
}
