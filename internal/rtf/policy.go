package rtf

// Policy decides what happens to each control word. Denied words abort the
// parse with ForbiddenContent wherever they appear, including inside groups
// that would otherwise be skipped. Words in neither set are ignored.
type Policy struct {
	Allow map[string]bool
	Deny  map[string]bool
}

var defaultAllow = []string{
	// header
	"rtf", "ansi", "mac", "pc", "pca", "ansicpg", "deff", "deflang", "deflangfe", "uc", "u",
	"fonttbl", "colortbl", "stylesheet", "info", "generator", "listtable", "listoverridetable",
	"f", "fnil", "froman", "fswiss", "fmodern", "fscript", "fdecor", "ftech", "fbidi", "fcharset", "fprq",
	"red", "green", "blue", "s", "cs", "sbasedon", "snext", "additive",
	// paragraph
	"pard", "par", "line", "sect", "page", "outlinelevel", "ls", "ilvl", "li", "ri", "fi",
	"ql", "qr", "qc", "qj", "sa", "sb", "sl", "slmult", "keepn", "widctlpar", "nowidctlpar",
	"listtext", "pntext", "pn", "pnlvlblt", "pnlvlbody", "pnstart", "pnindent", "pntxtb", "pntxta",
	// character
	"plain", "b", "i", "ul", "ulnone", "uld", "uldb", "ulw", "fs", "cf", "cb", "highlight", "lang",
	"strike", "super", "sub", "nosupersub", "caps", "scaps",
	// tables
	"trowd", "trgaph", "trleft", "cellx", "intbl", "cell", "row", "clbrdrt", "clbrdrb", "clbrdrl",
	"clbrdrr", "brdrs", "brdrw",
	// characters
	"tab", "emdash", "endash", "emspace", "enspace", "bullet", "lquote", "rquote", "ldblquote", "rdblquote",
	// private destinations carrying a hyperlink target and a code language
	"mdhref", "mdlang",
}

var defaultDeny = []string{
	"object", "objdata", "objemb", "objlink", "objautlink", "objclass",
	"pict", "shppict", "nonshppict", "shp", "shpinst",
	"field", "fldinst", "fldrslt", "datafield",
	"footnote",
}

// DefaultPolicy returns the built-in allow and deny sets.
func DefaultPolicy() Policy {
	p := Policy{Allow: make(map[string]bool, len(defaultAllow)), Deny: make(map[string]bool, len(defaultDeny))}
	for _, w := range defaultAllow {
		p.Allow[w] = true
	}
	for _, w := range defaultDeny {
		p.Deny[w] = true
	}
	return p
}

// With returns a copy of p extended by extra allowed and denied words.
// A word in both lists is denied.
func (p Policy) With(allow, deny []string) Policy {
	out := Policy{Allow: make(map[string]bool, len(p.Allow)+len(allow)), Deny: make(map[string]bool, len(p.Deny)+len(deny))}
	for w := range p.Allow {
		out.Allow[w] = true
	}
	for w := range p.Deny {
		out.Deny[w] = true
	}
	for _, w := range allow {
		out.Allow[w] = true
	}
	for _, w := range deny {
		out.Deny[w] = true
		delete(out.Allow, w)
	}
	return out
}

// Denied reports whether name must abort the parse.
func (p Policy) Denied(name string) bool {
	return p.Deny[name]
}

// Allowed reports whether name is interpreted rather than ignored.
func (p Policy) Allowed(name string) bool {
	return p.Allow[name] && !p.Deny[name]
}
