package rdf

const (
	RDFNS  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	XSDNS  = "http://www.w3.org/2001/XMLSchema#"
	SHNS   = "http://www.w3.org/ns/shacl#"
	DCATNS = "http://www.w3.org/ns/dcat#"
	DCTNS  = "http://purl.org/dc/terms/"
	SDONS  = "https://schema.org/"
	EDMNS  = "http://www.europeana.eu/schemas/edm/"
	ORENS  = "http://www.openarchives.org/ore/terms/"

	RDFType       = RDFNS + "type"
	RDFLangString = RDFNS + "langString"

	XSDString  = XSDNS + "string"
	XSDInteger = XSDNS + "integer"
	XSDBoolean = XSDNS + "boolean"
	XSDDate    = XSDNS + "date"
)

// SPARQL query media type, as used in catalogs to mark a distribution that is
// itself a query endpoint.
const MediaTypeSPARQLQuery = "application/sparql-query"
