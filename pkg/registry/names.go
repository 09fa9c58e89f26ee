package registry

// AnimalNames is the default alias pool.
var AnimalNames = []string{
	"otter", "badger", "heron", "lynx", "marten", "ibis", "gecko", "bison",
	"koala", "lemur", "okapi", "puffin", "quokka", "raven", "stoat", "tapir",
	"urchin", "vole", "walrus", "yak", "zebra", "alpaca", "beaver", "cobra",
	"dingo", "egret", "ferret", "gibbon", "hyena", "impala", "jackal", "kestrel",
	"llama", "magpie", "newt", "ocelot", "panda", "quail", "salmon", "toucan",
}
