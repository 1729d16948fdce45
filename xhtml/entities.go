package xhtml

import "html"

// namedEntities resolves the HTML named character references that show up in
// publication markup. XML itself predefines only five entities; documents in
// the wild still carry the HTML names, so the parser is given replacement
// text for the ones worth accepting. Anything outside this table is a parse
// error.
var namedEntities = buildEntities(
	// typography
	"nbsp", "ensp", "emsp", "thinsp", "zwnj", "zwj", "lrm", "rlm", "shy",
	"ndash", "mdash", "horbar",
	"lsquo", "rsquo", "sbquo", "ldquo", "rdquo", "bdquo",
	"laquo", "raquo", "lsaquo", "rsaquo",
	"hellip", "prime", "Prime", "oline", "frasl",
	"dagger", "Dagger", "bull", "middot", "permil",
	// signs and marks
	"copy", "reg", "trade", "sect", "para", "iexcl", "iquest",
	"deg", "plusmn", "times", "divide", "minus", "not", "micro", "macr",
	"acute", "cedil", "uml", "ordf", "ordm", "sup1", "sup2", "sup3",
	"frac12", "frac14", "frac34",
	"curren", "cent", "pound", "yen", "euro", "brvbar",
	// latin letters with diacritics
	"Agrave", "Aacute", "Acirc", "Atilde", "Auml", "Aring", "AElig",
	"Ccedil", "Egrave", "Eacute", "Ecirc", "Euml",
	"Igrave", "Iacute", "Icirc", "Iuml", "ETH", "Ntilde",
	"Ograve", "Oacute", "Ocirc", "Otilde", "Ouml", "Oslash",
	"Ugrave", "Uacute", "Ucirc", "Uuml", "Yacute", "THORN", "szlig",
	"agrave", "aacute", "acirc", "atilde", "auml", "aring", "aelig",
	"ccedil", "egrave", "eacute", "ecirc", "euml",
	"igrave", "iacute", "icirc", "iuml", "eth", "ntilde",
	"ograve", "oacute", "ocirc", "otilde", "ouml", "oslash",
	"ugrave", "uacute", "ucirc", "uuml", "yacute", "thorn", "yuml",
	"OElig", "oelig", "Scaron", "scaron", "Yuml",
)

func buildEntities(names ...string) map[string]string {
	m := make(map[string]string, len(names))
	for _, n := range names {
		ref := "&" + n + ";"
		if s := html.UnescapeString(ref); s != ref {
			m[n] = s
		}
	}
	return m
}
