package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"empty", "", ""},
		{"paragraphs", "<p>Invoice INV-1001</p><p>is overdue.</p>", "Invoice INV-1001\nis overdue."},
		{"breaks", "Amount: $120.50<br>Due: 1 March<br />Paid: no", "Amount: $120.50\nDue: 1 March\nPaid: no"},
		{"inline tags stay on the line", `Pay <a href="https://pay.example.test/INV-1">online</a> <strong>today</strong>`, "Pay online today"},
		{"entities decoded", "Ada &lt;Lovelace&gt; &amp; Co&#39;s invoice", "Ada <Lovelace> & Co's invoice"},
		{"whitespace collapsed", "<div>\n\t  Hello   there  \n\n</div><p></p><p>Bye</p>", "Hello there\nBye"},
		{"table rows", "<table><tr><td>Total</td><td>$5.00</td></tr><tr><td>Due</td></tr></table>", "Total$5.00\nDue"},
		{"unclosed tag dropped", "Thanks <span", "Thanks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, htmlToText(tt.html))
		})
	}
}
